package routegroups

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"resetwatch/api/handlers"
)

func RegisterTracker(apiRouter chi.Router, g Guards, tracker *handlers.TrackerHandler, events http.HandlerFunc) {
	apiRouter.Route("/tracker", func(trackerRouter chi.Router) {
		trackerRouter.MethodFunc("GET", "/stats", g.KeyPerm("tracker.view", tracker.Stats))
		trackerRouter.MethodFunc("GET", "/report", g.KeyPerm("tracker.view", tracker.Report))
		trackerRouter.MethodFunc("GET", "/entities", g.KeyPerm("tracker.view", tracker.Entities))
		trackerRouter.MethodFunc("GET", "/entities/{id:[0-9]+}/history", g.KeyPerm("tracker.view", tracker.History))
		trackerRouter.MethodFunc("GET", "/queue", g.KeyPerm("tracker.view", tracker.Queue))
		trackerRouter.MethodFunc("GET", "/events", g.KeyPerm("tracker.view", events))
		trackerRouter.MethodFunc("POST", "/start", g.KeyPerm("tracker.manage", tracker.Start))
		trackerRouter.MethodFunc("POST", "/stop", g.KeyPerm("tracker.manage", tracker.Stop))
		trackerRouter.MethodFunc("POST", "/index", g.KeyPerm("tracker.manage", tracker.Index))
		trackerRouter.MethodFunc("POST", "/discover", g.KeyPerm("tracker.manage", tracker.Discover))
		trackerRouter.MethodFunc("POST", "/cleanup", g.KeyPerm("tracker.manage", tracker.Cleanup))
		trackerRouter.MethodFunc("POST", "/entities/{id:[0-9]+}/check", g.KeyPerm("tracker.manage", tracker.Check))
	})
}
