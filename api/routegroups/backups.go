package routegroups

import (
	"github.com/go-chi/chi/v5"

	"resetwatch/api/handlers"
)

func RegisterBackups(apiRouter chi.Router, g Guards, backups *handlers.BackupsHandler) {
	apiRouter.Route("/backups", func(backupsRouter chi.Router) {
		backupsRouter.MethodFunc("GET", "/", g.KeyPerm("tracker.manage", backups.List))
		backupsRouter.MethodFunc("POST", "/", g.KeyPerm("tracker.manage", backups.Create))
	})
}
