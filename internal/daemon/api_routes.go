package daemon

import "net/http"

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/v1/devices", a.DeviceList)
	mux.HandleFunc("/v1/devices/", a.DeviceByID)
	mux.HandleFunc("/v1/favorites", a.FavoriteList)
	mux.HandleFunc("/v1/favorites/", a.FavoriteByIndex)
	mux.HandleFunc("/v1/events", a.EventStream)
	mux.HandleFunc("/v1/events/ws", a.EventSocket)
	mux.HandleFunc("/v1/shutdown", a.ShutdownDaemon)
}
