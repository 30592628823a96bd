package room

// Admin authority: at most one session per room may mutate playback state.
// All transitions below run on the room manager goroutine, so election is
// atomic with respect to concurrent joins and disconnects.

// electAdmin promotes the earliest-joined session when the room has no
// admin. No-op while an admin exists or the registry is empty.
func (r *Room) electAdmin() {
	if r.adminID != "" {
		return
	}
	s := r.reg.earliest()
	if s == nil {
		return
	}
	r.promote(s)
}

func (r *Room) promote(s *Session) {
	s.Admin = true
	r.adminID = s.ID
	r.sendTo(s.ID, &Message{
		Type:    MessageTypeAdminStatus,
		Payload: &AdminStatusPayload{Admin: true},
	})
	r.broadcast(&Message{
		Type:    MessageTypeAdminIdentity,
		Payload: &AdminIdentityPayload{SessionID: s.ID, DisplayName: s.DisplayName},
	})
}

// transferAdmin moves authority from the current admin to target.
func (r *Room) transferAdmin(target *Session) {
	if old := r.reg.get(r.adminID); old != nil {
		old.Admin = false
		r.sendTo(old.ID, &Message{
			Type:    MessageTypeAdminStatus,
			Payload: &AdminStatusPayload{Admin: false},
		})
	}
	r.adminID = ""
	r.promote(target)
}

// handleAdminRequest forwards a hand-me-admin ticket to the current admin
// only. The ticket is transient: nothing is stored, resolution arrives as an
// adminTransfer or not at all.
func (r *Room) handleAdminRequest(m *Message) {
	s := r.reg.get(m.Sender)
	if s == nil {
		r.sendError(m.Sender, "join the room before requesting admin")
		return
	}
	if s.ID == r.adminID || r.adminID == "" {
		return
	}
	r.sendTo(r.adminID, &Message{
		Type:    MessageTypeAdminRequest,
		Payload: &AdminRequestPayload{FromID: s.ID, FromName: s.DisplayName},
	})
}

// handleAdminTransfer resolves a ticket. Only honoured from the current
// admin; a transfer to a departed or unknown session is dropped.
func (r *Room) handleAdminTransfer(m *Message) {
	if m.Sender != r.adminID || r.adminID == "" {
		return
	}
	p, ok := m.Payload.(*AdminTransferPayload)
	if !ok {
		return
	}
	target := r.reg.get(p.ToID)
	if target == nil || target.ID == r.adminID {
		return
	}
	r.transferAdmin(target)
	r.systemBroadcast(target.DisplayName + " is now the admin")
}
