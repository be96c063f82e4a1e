package controllers

import (
	"net/http"

	"github.com/tidalhq/tidal/internal/identity"
	adminsvc "github.com/tidalhq/tidal/internal/services/admin"
	eventsvc "github.com/tidalhq/tidal/internal/services/events"
	"github.com/tidalhq/tidal/pkg/log"
)

// ControllerRegistry manages all HTTP controllers and registers their routes
// on one mux.
type ControllerRegistry struct {
	general *GeneralController
	events  *EventsController
	admin   *AdminController
}

// Options wire a ControllerRegistry.
type Options struct {
	Events     *eventsvc.Service
	Admin      *adminsvc.Service
	Authorizer identity.Authorizer
	Health     HealthChecker
	Logger     log.Logger
}

// NewControllerRegistry creates every controller with the provided services.
func NewControllerRegistry(opts Options) *ControllerRegistry {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger().With(log.Component("http"))
	}
	return &ControllerRegistry{
		general: NewGeneralController(opts.Health),
		events:  NewEventsController(opts.Events, opts.Authorizer, logger),
		admin:   NewAdminController(opts.Admin, opts.Authorizer, logger),
	}
}

// RegisterAllRoutes registers every endpoint with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.events.RegisterRoutes(mux)
	r.admin.RegisterRoutes(mux)
}
