// Package response renders the dispatcher's error envelope. Success
// responses are plain JSON bodies written by the handlers themselves;
// failures all go through Fail so every error carries the same
// {kind, title, detail, status} shape.
package response

import (
	"github.com/gin-gonic/gin"
)

// ProblemBody is the error envelope carried by every failed API response:
// a machine-readable kind plus a human-readable title/detail pair. Detail
// must never contain credentials.
type ProblemBody struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// Fail sends a ProblemBody with the given status.
func Fail(c *gin.Context, status int, kind, title, detail string) {
	c.JSON(status, ProblemBody{Kind: kind, Title: title, Detail: detail, Status: status})
}
