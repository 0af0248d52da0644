// Package httpapi is the HTTP surface: thin gin adapters over the
// lifecycle service, the post-production pipeline, the authz proxy, the
// ban sequencer and the download service. Handlers only parse, delegate
// and render; everything with semantics lives one layer down.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/authzproxy"
	"github.com/foxford/dispatchd/internal/banops"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/download"
	"github.com/foxford/dispatchd/internal/lifecycle"
	"github.com/foxford/dispatchd/internal/middleware"
	"github.com/foxford/dispatchd/internal/models"
	"github.com/foxford/dispatchd/internal/pipeline"
)

// ClassReader is the read slice handlers use; satisfied both by the store
// and by the read-through cache wrapped around it.
type ClassReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error)
	FindByScope(ctx context.Context, audience, scope string) (*models.Class, error)
}

// RecordingLister lists a class's recordings for the download endpoint.
type RecordingLister interface {
	ListRecordingsByClass(ctx context.Context, classID uuid.UUID) ([]models.Recording, error)
}

// FrontendStore is the frontend-redirect slice of the persistence model.
type FrontendStore interface {
	FindFrontend(ctx context.Context, scope, app string) (*models.Frontend, error)
	UpsertFrontend(ctx context.Context, f models.Frontend) error
	DeleteScope(ctx context.Context, scope string) error
}

// Server wires every route onto its backing service.
type Server struct {
	lifecycle    *lifecycle.Service
	pipeline     *pipeline.Pipeline
	reader       ClassReader
	records      RecordingLister
	frontends    FrontendStore
	authz        *authzproxy.Proxy
	bans         *banops.Sequencer
	download     *download.Service
	eventlog     *clients.EventLogClient
	bus          *broker.Bus
	jwtSecret    string
	frontendBase string
	logger       *zap.Logger
}

// New builds a Server.
func New(
	lifecycleSvc *lifecycle.Service,
	pipelineSvc *pipeline.Pipeline,
	reader ClassReader,
	records RecordingLister,
	frontends FrontendStore,
	authz *authzproxy.Proxy,
	bans *banops.Sequencer,
	downloadSvc *download.Service,
	eventlog *clients.EventLogClient,
	bus *broker.Bus,
	jwtSecret string,
	frontendBase string,
	logger *zap.Logger,
) *Server {
	return &Server{
		lifecycle:    lifecycleSvc,
		pipeline:     pipelineSvc,
		reader:       reader,
		records:      records,
		frontends:    frontends,
		authz:        authz,
		bans:         bans,
		download:     downloadSvc,
		eventlog:     eventlog,
		bus:          bus,
		jwtSecret:    jwtSecret,
		frontendBase: frontendBase,
		logger:       logger,
	}
}

// Routes mounts every endpoint on router.
func (s *Server) Routes(router *gin.Engine) {
	router.GET("/redirs/tenants/:tenant/apps/:app", s.redirectToFrontend)

	api := router.Group("/api/v1")

	api.GET("/healthz", func(c *gin.Context) { c.String(200, "Ok") })

	authed := api.Group("")
	authed.Use(middleware.Bearer(s.jwtSecret))
	{
		for _, kind := range []models.Kind{models.KindWebinar, models.KindP2P, models.KindMinigroup} {
			kind := kind
			group := authed.Group("/" + kindSegment(kind))
			group.POST("", s.createClass(kind))
			group.GET("/:id", s.readClass(kind))
			group.PUT("/:id", s.updateClass(kind))
			group.POST("/:id/recreate", s.recreateClass(kind))
			group.POST("/:id/events", s.createEvent(kind))
			group.GET("/:id/properties/:property_id", s.readProperty(kind))
			group.PUT("/:id/properties/:property_id", s.updateProperty(kind))
			if kind != models.KindP2P {
				group.GET("/:id/download", s.downloadClass(kind))
			}
			authed.GET("/audiences/:audience/"+kindSegment(kind)+"/:scope", s.readClassByScope(kind))
		}

		authed.POST("/webinars/:id/restart-transcoding", s.restartTranscoding)
		authed.POST("/audiences/:audience/classes/:scope/editions/:edition_id", s.commitEdition)

		authed.POST("/authz/:audience",
			middleware.RequireServiceLabel("event", "conference", "storage"),
			s.authorizeProxy,
		)

		authed.POST("/accounts/:account_id/ban", s.submitBan)
		authed.GET("/accounts/:account_id/last-ban-operation", s.lastBanOperation)

		authed.POST("/scopes/:scope/rollback", s.rollbackScope)
		authed.PUT("/scopes/:scope/frontends/:app", s.registerFrontend)
	}
}

func kindSegment(k models.Kind) string {
	switch k {
	case models.KindWebinar:
		return "webinars"
	case models.KindMinigroup:
		return "minigroups"
	default:
		return "p2p"
	}
}
