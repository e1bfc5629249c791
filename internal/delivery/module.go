package delivery

import (
	"fmt"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

func init() {
	core.RegisterModule(&RouterModule{})
}

// Compile-time interface guards.
var (
	_ core.Module      = (*RouterModule)(nil)
	_ core.Provisioner = (*RouterModule)(nil)
)

// ServiceName is the AppContext service key for the shared Router.
// Channel modules fetch it during Provision to register themselves, so
// delivery.router must be configured before any delivery.* channel.
const ServiceName = "delivery.router"

// RouterModule exposes the Router as an app service.
type RouterModule struct {
	router *Router
}

// ModuleInfo implements core.Module.
func (m *RouterModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "delivery.router",
		New: func() core.Module { return &RouterModule{} },
	}
}

// Provision implements core.Provisioner.
func (m *RouterModule) Provision(ctx *core.AppContext) error {
	var audit *security.AuditLogger
	if svc, ok := ctx.Service("security.audit"); ok {
		audit, _ = svc.(*security.AuditLogger)
	}
	m.router = NewRouter(ctx.Logger, audit)
	ctx.RegisterService(ServiceName, m.router)
	return nil
}

// Router returns the provisioned router.
func (m *RouterModule) Router() *Router {
	return m.router
}

// FromContext fetches the shared Router service. Channel modules call it
// during their own Provision.
func FromContext(ctx *core.AppContext) (*Router, error) {
	svc, ok := ctx.Service(ServiceName)
	if !ok {
		return nil, fmt.Errorf("delivery: router service not registered; configure %s first", ServiceName)
	}
	router, ok := svc.(*Router)
	if !ok {
		return nil, fmt.Errorf("delivery: unexpected router service type %T", svc)
	}
	return router, nil
}
