package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/runevale/server/internal/auth"
	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/data"
	"github.com/runevale/server/internal/gates"
	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/scripting"
	"github.com/runevale/server/internal/sim"
	"github.com/runevale/server/internal/world"
)

type testAPI struct {
	h      http.Handler
	engine *sim.Engine
	w      *world.World
	assets *ledger.MemLedger
	cfg    *config.Config
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gameplay.StartZone = "vale"
	cfg.Gameplay.StartX, cfg.Gameplay.StartY = 100, 100
	cfg.Ledger.BackoffBase = time.Millisecond
	log := zap.NewNop()

	zones := data.NewZoneTable([]data.ZoneDef{
		{
			ZoneID: "vale", Name: "Vale", Width: 1000, Height: 1000,
			GraveyardX: 50, GraveyardY: 50,
			Npcs: []data.NpcDef{
				{Name: "Aldric", Role: "trainer", X: 400, Y: 400, Techniques: []string{"strike"}},
			},
		},
	})
	mobs := data.NewMobTable([]data.MobTemplate{
		{MobID: 1, Name: "Wolf", Level: 2, MaxHP: 40, Stats: data.StatBlock{Str: 5}, XPReward: 60},
	})
	items := data.NewItemTable([]data.ItemTemplate{
		{TokenID: 101, Name: "Sword", Kind: "weapon", Slot: "weapon", Damage: 6, MaxDurability: 80, CopperPrice: 120},
	})
	techniques := data.NewTechniqueTable([]data.Technique{
		{ID: "strike", Name: "Strike", MinLevel: 1, Kind: "damage", Power: 20, LearnCost: 80, NeedsTarget: true},
	})
	classes := data.NewClassTable(
		[]data.ClassDef{{ClassID: "warden", Name: "Warden", Base: data.StatBlock{Str: 8, HP: 3}}},
		[]data.RaceDef{{RaceID: "human", Name: "Human"}},
	)
	dungeons := data.NewDungeonTable(nil)

	script, err := scripting.NewEngine(log)
	require.NoError(t, err)
	t.Cleanup(script.Close)

	assets := ledger.NewMemLedger()
	ser := ledger.NewSerializer(cfg.Ledger, log)
	ctx, cancel := context.WithCancel(context.Background())
	go ser.Run(ctx)

	w := world.New(cfg, log, zones, mobs, items, nil)
	engine := sim.NewEngine(cfg, log, w, script, techniques, classes, ser, assets, ledger.NewGoldLedger(), nil)
	// No background tick loops under test.
	w.OnZoneCreated = nil

	keeper := gates.NewKeeper(cfg, log, w, dungeons, ser, assets, nil, 1)
	sessions := auth.NewStore(cfg.Session, nil)
	srv := NewServer(cfg, log, sessions, engine, keeper)

	t.Cleanup(func() {
		ser.Close()
		ser.Flush()
		cancel()
	})
	return &testAPI{h: srv.routes(), engine: engine, w: w, assets: assets, cfg: cfg}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func parse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// login runs the full challenge/verify handshake and returns a bearer token
// with its wallet.
func (a *testAPI) login(t *testing.T) (token, wallet string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wallet = auth.WalletFromPub(pub)

	rec := a.do(t, http.MethodPost, "/v1/auth/challenge", "", map[string]string{"wallet": wallet})
	require.Equal(t, http.StatusOK, rec.Code)
	ch := parse(t, rec)
	msg := ch["message"].(string)
	ts := int64(ch["timestamp"].(float64))

	sig := ed25519.Sign(priv, []byte(msg))
	rec = a.do(t, http.MethodPost, "/v1/auth/verify", "", map[string]any{
		"wallet":    wallet,
		"publicKey": hex.EncodeToString(pub),
		"signature": hex.EncodeToString(sig),
		"timestamp": ts,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	return parse(t, rec)["token"].(string), wallet
}

// spawnChar creates a character and returns its entity id and zone.
func (a *testAPI) spawnChar(t *testing.T, token, name string) (charID, zoneID string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/spawn", token, map[string]string{
		"name": name, "classId": "warden", "raceId": "human",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := parse(t, rec)
	char := body["character"].(map[string]any)
	return char["id"].(string), body["zoneId"].(string)
}

func TestAuthRequiredOnGameRoutes(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/v1/zones/vale", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/zones/vale", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// State and the auth handshake stay public.
	rec = a.do(t, http.MethodGet, "/v1/state", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Runevale", parse(t, rec)["server"])

	rec = a.do(t, http.MethodGet, "/v1/auth/challenge?wallet=0xabc", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", parse(t, rec)["wallet"])

	rec = a.do(t, http.MethodGet, "/v1/auth/challenge", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateIncludesZoneSnapshots(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)
	charID, zoneID := a.spawnChar(t, token, "Hera")

	rec := a.do(t, http.MethodGet, "/v1/state", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	zones := parse(t, rec)["zones"].(map[string]any)
	vale, ok := zones[zoneID].(map[string]any)
	require.True(t, ok)
	entities := vale["entities"].(map[string]any)
	assert.Contains(t, entities, charID)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	a := newTestAPI(t)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wallet := auth.WalletFromPub(pub)

	rec := a.do(t, http.MethodPost, "/v1/auth/challenge", "", map[string]string{"wallet": wallet})
	require.Equal(t, http.StatusOK, rec.Code)
	ts := int64(parse(t, rec)["timestamp"].(float64))

	otherPub, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sig := ed25519.Sign(otherPriv, []byte("wrong message"))
	rec = a.do(t, http.MethodPost, "/v1/auth/verify", "", map[string]any{
		"wallet":    wallet,
		"publicKey": hex.EncodeToString(otherPub),
		"signature": hex.EncodeToString(sig),
		"timestamp": ts,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSpawnCommandZoneEvents(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)
	charID, zoneID := a.spawnChar(t, token, "Hera")
	assert.Equal(t, "vale", zoneID)

	rec := a.do(t, http.MethodPost, "/v1/command", token, map[string]any{
		"zoneId": zoneID, "actorId": charID, "action": "move", "x": 300.0, "y": 300.0,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, true, parse(t, rec)["accepted"])

	rec = a.do(t, http.MethodGet, "/v1/zones/"+zoneID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := parse(t, rec)
	entities := snap["entities"].(map[string]any)
	assert.Contains(t, entities, charID)

	rec = a.do(t, http.MethodGet, "/v1/events/"+zoneID+"?limit=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/events/"+zoneID+"?since=not-a-time", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)
	charID, zoneID := a.spawnChar(t, token, "Hera")

	// Unknown zone.
	rec := a.do(t, http.MethodPost, "/v1/command", token, map[string]any{
		"zoneId": "nowhere", "actorId": charID, "action": "move",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Someone else's character.
	otherToken, _ := a.login(t)
	rec = a.do(t, http.MethodPost, "/v1/command", otherToken, map[string]any{
		"zoneId": zoneID, "actorId": charID, "action": "move",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown action stays a plain bad request.
	rec = a.do(t, http.MethodPost, "/v1/command", token, map[string]any{
		"zoneId": zoneID, "actorId": charID, "action": "dance",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown fields are rejected outright.
	rec = a.do(t, http.MethodPost, "/v1/command", token, map[string]any{
		"zoneId": zoneID, "actorId": charID, "action": "move", "cheat": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpawnValidation(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)

	rec := a.do(t, http.MethodPost, "/v1/spawn", token, map[string]string{"name": "Hera"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/spawn", token, map[string]string{
		"name": "Hera", "classId": "necromancer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrainingWithoutGoldIsPaymentRequired(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)
	charID, zoneID := a.spawnChar(t, token, "Hera")

	// Walk the character next to the trainer, then ask to learn.
	z := a.w.Get(zoneID)
	var trainerID string
	for id, ent := range z.Snapshot().Entities {
		if ent.Kind == world.KindNPC {
			trainerID = id
		}
	}
	require.NotEmpty(t, trainerID)
	z.Mutate(func(zz *world.Zone) {
		ent := zz.Get(charID)
		ent.X, ent.Y = 400, 400
	})

	rec := a.do(t, http.MethodPost, "/v1/interact", token, map[string]any{
		"zoneId": zoneID, "actorId": charID, "npcId": trainerID,
		"topic": "train", "technique": "strike",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPartyEndpoints(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)
	charID, _ := a.spawnChar(t, token, "Hera")
	otherToken, _ := a.login(t)
	otherID, _ := a.spawnChar(t, otherToken, "Nix")

	rec := a.do(t, http.MethodPost, "/v1/party/create", token, map[string]string{"actorId": charID})
	require.Equal(t, http.StatusCreated, rec.Code)
	partyID := parse(t, rec)["id"].(string)

	// Creating twice conflicts.
	rec = a.do(t, http.MethodPost, "/v1/party/create", token, map[string]string{"actorId": charID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/party/join", otherToken, map[string]string{
		"partyId": partyID, "actorId": otherID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	members := parse(t, rec)["members"].([]any)
	assert.Len(t, members, 2)

	rec = a.do(t, http.MethodPost, "/v1/party/leave", otherToken, map[string]string{"actorId": otherID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPartyRejectsForeignCharacters(t *testing.T) {
	a := newTestAPI(t)
	victimToken, _ := a.login(t)
	victimID, _ := a.spawnChar(t, victimToken, "Hera")
	attackerToken, _ := a.login(t)
	attackerID, _ := a.spawnChar(t, attackerToken, "Nix")

	rec := a.do(t, http.MethodPost, "/v1/party/create", attackerToken, map[string]string{"actorId": attackerID})
	require.Equal(t, http.StatusCreated, rec.Code)
	partyID := parse(t, rec)["id"].(string)

	// Dragging someone else's character into your party is forbidden, and
	// kill credit stays solo.
	rec = a.do(t, http.MethodPost, "/v1/party/join", attackerToken, map[string]string{
		"partyId": partyID, "actorId": victimID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, a.w.Parties.MembersOf(attackerID), victimID)

	// So is founding a party in their name, or evicting them from their own.
	rec = a.do(t, http.MethodPost, "/v1/party/create", attackerToken, map[string]string{"actorId": victimID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/party/create", victimToken, map[string]string{"actorId": victimID})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(t, http.MethodPost, "/v1/party/leave", attackerToken, map[string]string{"actorId": victimID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotNil(t, a.w.Parties.PartyOf(victimID))

	// Characters that stand nowhere are not found.
	rec = a.do(t, http.MethodPost, "/v1/party/create", attackerToken, map[string]string{"actorId": "char-999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepairUnownedItem(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t)
	charID, zoneID := a.spawnChar(t, token, "Hera")

	rec := a.do(t, http.MethodPost, "/v1/equipment/repair", token, map[string]any{
		"zoneId": zoneID, "actorId": charID, "tokenId": 101,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request failed", parse(t, rec)["error"])
}
