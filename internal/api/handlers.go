package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/runevale/server/internal/sim"
	"github.com/runevale/server/internal/world"
)

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" && r.Method == http.MethodPost {
		var req struct {
			Wallet string `json:"wallet"`
		}
		if err := decode(r, &req); err == nil {
			wallet = req.Wallet
		}
	}
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet required", nil)
		return
	}
	ch := s.sessions.NewChallenge(wallet)
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":    ch.Wallet,
		"message":   ch.Message,
		"timestamp": ch.Timestamp,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet    string `json:"wallet"`
		PublicKey string `json:"publicKey"`
		Signature string `json:"signature"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	sess, err := s.sessions.Verify(req.Wallet, req.PublicKey, req.Signature, req.Timestamp)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "verification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     sess.Token,
		"wallet":    sess.Wallet,
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	wld := s.engine.World()
	zones := make(map[string]world.Snapshot)
	for _, id := range wld.ZoneIDs() {
		z := wld.Get(id)
		if z == nil {
			continue
		}
		zones[id] = z.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":    s.cfg.Server.Name,
		"serverId":  s.cfg.Server.ID,
		"startTime": s.cfg.Server.StartTime,
		"zones":     zones,
	})
}

func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["zoneId"]
	z := s.engine.World().Get(zoneID)
	if z == nil {
		fail(w, world.ErrZoneNotFound)
		return
	}
	writeJSON(w, http.StatusOK, z.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["zoneId"]
	z := s.engine.World().Get(zoneID)
	if z == nil {
		fail(w, world.ErrZoneNotFound)
		return
	}
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		since = t
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"zoneId": zoneID,
		"events": z.Events(since, limit),
	})
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		ClassID string `json:"classId"`
		RaceID  string `json:"raceId"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" || req.ClassID == "" {
		writeError(w, http.StatusBadRequest, "name and classId required", err)
		return
	}
	ent, zoneID, err := s.engine.SpawnPlayer(r.Context(), walletFrom(r), req.Name, req.ClassID, req.RaceID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"zoneId":    zoneID,
		"character": ent,
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd sim.Command
	if err := decode(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	cmd.Wallet = walletFrom(r)
	receipt, err := s.engine.Dispatch(cmd)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		ActorID string `json:"actorId"`
	}
	if err := decode(r, &req); err != nil || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actorId required", err)
		return
	}

	// Ownership check against a snapshot; the transition re-validates
	// everything positional under the zone locks.
	wld := s.engine.World()
	z := wld.Get(vars["zoneId"])
	if z == nil {
		fail(w, world.ErrZoneNotFound)
		return
	}
	snap := z.Snapshot()
	actor, ok := snap.Entities[req.ActorID]
	if !ok {
		fail(w, world.ErrEntityNotFound)
		return
	}
	if actor.Player == nil || actor.Player.Wallet != walletFrom(r) {
		fail(w, sim.ErrNotYourCharacter)
		return
	}

	if err := wld.Transition(vars["zoneId"], req.ActorID, vars["portalId"]); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitioned": true})
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req sim.InteractRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	req.Wallet = walletFrom(r)
	res, err := s.engine.Interact(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUseItem(w http.ResponseWriter, r *http.Request) {
	var req sim.UseItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	req.Wallet = walletFrom(r)
	if err := s.engine.UseItem(r.Context(), req); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ZoneID  string `json:"zoneId"`
		ActorID string `json:"actorId"`
		NPCID   string `json:"npcId"`
		TokenID int64  `json:"tokenId"`
		Qty     int    `json:"qty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	err := s.engine.BuyItem(r.Context(), req.ZoneID, req.ActorID, walletFrom(r), req.NPCID, req.TokenID, req.Qty)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchased": true})
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req sim.UseItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	req.Wallet = walletFrom(r)
	cost, err := s.engine.RepairItem(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": true, "copperCost": cost})
}

func (s *Server) handleOpenGate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ZoneID  string `json:"zoneId"`
		ActorID string `json:"actorId"`
		GateID  string `json:"gateId"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", err)
		return
	}
	instanceID, err := s.keeper.OpenGate(r.Context(), req.ZoneID, req.ActorID, walletFrom(r), req.GateID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instanceId": instanceID})
}

// requireOwnActor rejects party moves on characters the session does not own.
func (s *Server) requireOwnActor(r *http.Request, actorID string) error {
	ent, _ := s.engine.World().FindEntity(actorID)
	if ent == nil {
		return world.ErrEntityNotFound
	}
	if ent.Player == nil || ent.Player.Wallet != walletFrom(r) {
		return sim.ErrNotYourCharacter
	}
	return nil
}

func (s *Server) handlePartyCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actorId"`
	}
	if err := decode(r, &req); err != nil || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actorId required", err)
		return
	}
	if err := s.requireOwnActor(r, req.ActorID); err != nil {
		fail(w, err)
		return
	}
	p, err := s.engine.World().Parties.Create(req.ActorID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePartyJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartyID string `json:"partyId"`
		ActorID string `json:"actorId"`
	}
	if err := decode(r, &req); err != nil || req.PartyID == "" || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "partyId and actorId required", err)
		return
	}
	if err := s.requireOwnActor(r, req.ActorID); err != nil {
		fail(w, err)
		return
	}
	if err := s.engine.World().Parties.Join(req.PartyID, req.ActorID, s.cfg.Gates.MaxPartySize); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.World().Parties.PartyOf(req.ActorID))
}

func (s *Server) handlePartyLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actorId"`
	}
	if err := decode(r, &req); err != nil || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actorId required", err)
		return
	}
	if err := s.requireOwnActor(r, req.ActorID); err != nil {
		fail(w, err)
		return
	}
	s.engine.World().Parties.Leave(req.ActorID)
	writeJSON(w, http.StatusOK, map[string]any{"left": true})
}
