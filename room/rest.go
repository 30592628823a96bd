package room

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
)

type ServerInfoMsg struct {
	OK    bool     `json:"ok"`
	NRoom int      `json:"nroom"`
	Rooms []string `json:"rooms"`
}

type RoomCreatedMsg struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomID"`
	Name   string `json:"name"`
	WSPath string `json:"wsPath"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

func getServerInfo(s *Server, w http.ResponseWriter, r *http.Request) {
	ids := s.RoomIDs()
	RespondWithJSON(&ServerInfoMsg{
		OK:    true,
		NRoom: len(ids),
		Rooms: ids,
	}, http.StatusOK, w)
}

func createRoom(s *Server, w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if r.Body != nil {
		// an empty or invalid body just means an unnamed room
		json.NewDecoder(r.Body).Decode(&req)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = xid.New().String()
	}
	rm, err := s.OpenRoom(r.Context(), name)
	if err != nil {
		s.log.Error().Err(err).Str("name", name).Msg("room creation failed")
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
		return
	}
	RespondWithJSON(&RoomCreatedMsg{
		OK:     true,
		RoomID: rm.ID,
		Name:   rm.Name,
		WSPath: "/ws?room=" + rm.ID,
	}, http.StatusOK, w)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(map[string]bool{"ok": true}, http.StatusOK, w)
}

// NewRestMux makes the RESTful API servemux of server
func NewRestMux(server *Server) *mux.Router {
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/", http.NotFound)
	restMux.HandleFunc("/healthz", healthz).Methods("GET")
	restMux.HandleFunc("/server", func(w http.ResponseWriter, r *http.Request) {
		getServerInfo(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		createRoom(server, w, r)
	}).Methods("POST")
	return restMux
}
