package anchord

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"raffleanchor/config"
	"raffleanchor/crypto"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rollup"
	rpcanchor "raffleanchor/rpc/anchor"
	"raffleanchor/services/anchord/middleware"
	"raffleanchor/services/anchord/server"
	"raffleanchor/storage"
)

const testSecret = "anchord-test-secret"

type apiFixture struct {
	node     *Node
	http     *httptest.Server
	client   *rpcanchor.Client
	key      *crypto.PrivateKey
	attestor [20]byte
	manager  crypto.Address
	token    string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	managerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &apiFixture{
		key:      key,
		attestor: key.PubKey().Address(crypto.AttestorPrefix).Raw(),
		manager:  managerKey.PubKey().Address(crypto.ParticipantPrefix),
	}

	cfg := config.Default()
	cfg.Raffle.NbWinners = 2
	cfg.Attestors = []string{key.PubKey().Address(crypto.AttestorPrefix).String()}
	cfg.DataManagers = []string{f.manager.String()}
	cfg.RateLimit = config.RateLimit{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	f.node, err = NewNode(cfg, storage.NewMemDB(), nil)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret, Issuer: cfg.Admin.Issuer}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	srv, err := server.New(server.Config{Auth: auth}, f.node.Backend(), nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	f.http = httptest.NewServer(srv.Handler())
	t.Cleanup(f.http.Close)

	f.token, err = middleware.IssueToken(testSecret, cfg.Admin.Issuer, f.manager.String(), time.Hour, middleware.ScopeAdmin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	f.client = rpcanchor.NewClient(rpcanchor.Config{URL: f.http.URL, AdminToken: f.token})
	return f
}

func (f *apiFixture) admin(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.http.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) seedEra(t *testing.T, era uint32) {
	t.Helper()
	participants := make([]rpcanchor.ParticipantJSON, 0, 4)
	for i := byte(1); i <= 4; i++ {
		participants = append(participants, rpcanchor.NewParticipantJSON(raffle.ParticipantID{i}, uint256.NewInt(100)))
	}
	resp := f.admin(t, http.MethodPost, "/v1/admin/oracle/participants", rpcanchor.ParticipantsRequest{Era: era, Participants: participants}, f.token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("add participants: status %d", resp.StatusCode)
	}
	resp = f.admin(t, http.MethodPost, "/v1/admin/oracle/rewards", rpcanchor.RewardsRequest{Era: era, Amount: "900"}, f.token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set rewards: status %d", resp.StatusCode)
	}
}

func (f *apiFixture) submit(t *testing.T, responses ...rollup.Response) (*rpcanchor.ReceiptJSON, error) {
	t.Helper()
	batch, err := rollup.SignBatch(f.key, responses)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return f.client.SubmitBatch(context.Background(), f.attestor, batch)
}

func TestDrawRoundTripOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEra(t, 1)
	ctx := context.Background()

	trigger, err := f.client.TriggerDraw(ctx, 1)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(trigger.Outbound) != 1 {
		t.Fatalf("expected one outbound request, got %+v", trigger)
	}
	pending, err := f.client.Pending(ctx, rollup.QueueRequests)
	if err != nil || len(pending.Messages) != 1 {
		t.Fatalf("pending: %+v err=%v", pending, err)
	}
	action, err := raffle.DecodeAction(pending.Messages[0].Payload)
	if err != nil {
		t.Fatalf("decode outbound: %v", err)
	}
	request := action.(raffle.DrawRequest)

	status, err := f.client.RaffleStatus(ctx)
	if err != nil || status.Pending == nil || status.ProofScheme != config.ProofSchemeAttested {
		t.Fatalf("status: %+v err=%v", status, err)
	}
	draw, err := status.Pending.PendingDraw()
	if err != nil {
		t.Fatalf("pending draw: %v", err)
	}
	if draw.Ref != request.Ref || len(draw.Pool) != 4 {
		t.Fatalf("status and queue disagree: %+v vs %+v", draw.Ref, request.Ref)
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		t.Fatalf("seed: %v", err)
	}
	winners, err := raffle.Select(draw.Pool, seed, int(draw.NbWinners))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	proof, err := raffle.ProveAttestedSeed(f.key, draw.Ref, seed, false, winners)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	receipt, err := f.submit(t,
		rollup.Response{Index: 0, Payload: raffle.MustEncode(raffle.DrawRequest{Ref: draw.Ref})},
		rollup.Response{Index: 1, Payload: raffle.MustEncode(raffle.DrawResult{Ref: draw.Ref, Winners: winners, RandomnessProof: proof})},
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.NextIndex != 2 || len(receipt.Payouts) != 2 || receipt.Payouts[0].Amount != "450" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	cursor, err := f.client.Cursor(ctx)
	if err != nil || cursor.Next != 2 || cursor.Last == nil || *cursor.Last != 1 || cursor.State != "idle" {
		t.Fatalf("cursor: %+v err=%v", cursor, err)
	}
	pending, err = f.client.Pending(ctx, rollup.QueueRequests)
	if err != nil || len(pending.Messages) != 0 {
		t.Fatalf("request should be consumed: %+v err=%v", pending, err)
	}

	// Replaying the same batch is an ordering error.
	_, err = f.submit(t, rollup.Response{Index: 0, Payload: raffle.MustEncode(raffle.DrawRequest{Ref: draw.Ref})})
	if !rpcanchor.IsClass(err, "ordering") {
		t.Fatalf("expected ordering error, got %v", err)
	}
	var apiErr *rpcanchor.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Index == nil || *apiErr.Index != 0 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestSubmitBatchErrorClasses(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEra(t, 1)

	_, err := f.submit(t, rollup.Response{Index: 0, Payload: []byte{0x07}})
	if !rpcanchor.IsClass(err, "decoding") {
		t.Fatalf("expected decoding error, got %v", err)
	}

	stranger, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	batch, err := rollup.SignBatch(stranger, []rollup.Response{{Index: 0, Payload: raffle.MustEncode(raffle.DrawRequest{Ref: raffle.SnapshotRef{Era: 1}})}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = f.client.SubmitBatch(context.Background(), stranger.PubKey().Address(crypto.AttestorPrefix).Raw(), batch)
	if !rpcanchor.IsClass(err, "authorization") {
		t.Fatalf("expected authorization error, got %v", err)
	}

	_, err = f.submit(t, rollup.Response{Index: 0, Payload: raffle.MustEncode(raffle.DrawRequest{Ref: raffle.SnapshotRef{Era: 9}})})
	if !rpcanchor.IsClass(err, "domain") {
		t.Fatalf("expected domain error for an era without stakers, got %v", err)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	if resp := f.admin(t, http.MethodGet, "/v1/admin/attestors", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	noScope, err := middleware.IssueToken(testSecret, "raffle-admin", f.manager.String(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp := f.admin(t, http.MethodGet, "/v1/admin/attestors", nil, noScope); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without scope, got %d", resp.StatusCode)
	}
	forged, err := middleware.IssueToken("other-secret", "raffle-admin", f.manager.String(), time.Hour, middleware.ScopeAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp := f.admin(t, http.MethodGet, "/v1/admin/attestors", nil, forged); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", resp.StatusCode)
	}

	resp := f.admin(t, http.MethodGet, "/v1/admin/attestors", nil, f.token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list attestors: %d", resp.StatusCode)
	}
	var list rpcanchor.AttestorsJSON
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil || len(list.Attestors) != 1 {
		t.Fatalf("unexpected attestors %+v err=%v", list, err)
	}
}

func TestOracleWritesCheckRole(t *testing.T) {
	f := newAPIFixture(t)
	outsider := crypto.NewAddress(crypto.ParticipantPrefix, bytes.Repeat([]byte{0x09}, 20))
	token, err := middleware.IssueToken(testSecret, "raffle-admin", outsider.String(), time.Hour, middleware.ScopeAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp := f.admin(t, http.MethodPost, "/v1/admin/oracle/rewards", rpcanchor.RewardsRequest{Era: 1, Amount: "5"}, token)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for caller without the data manager role, got %d", resp.StatusCode)
	}

	f.seedEra(t, 3)
	resp = f.admin(t, http.MethodGet, "/v1/admin/oracle/eras/3", nil, f.token)
	var data rpcanchor.EraDataJSON
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Participants) != 4 || data.Rewards != "900" {
		t.Fatalf("unexpected era data %+v", data)
	}
	resp = f.admin(t, http.MethodPost, "/v1/admin/oracle/clear", rpcanchor.EraRequest{Era: 3}, f.token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear era: %d", resp.StatusCode)
	}
	resp = f.admin(t, http.MethodPost, "/v1/admin/oracle/participants", rpcanchor.ParticipantsRequest{
		Era:          3,
		Participants: []rpcanchor.ParticipantJSON{{Account: outsider.String(), Stake: "0"}},
	}, f.token)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero stake should be rejected, got %d", resp.StatusCode)
	}
}

func TestHealthAndEvents(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.admin(t, http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	f.seedEra(t, 1)
	if _, err := f.client.TriggerDraw(context.Background(), 1); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	resp = f.admin(t, http.MethodGet, "/v1/events?type=raffle.draw.requested", nil, "")
	var body struct {
		Events []struct {
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Attributes["era"] != "1" {
		t.Fatalf("unexpected events %+v", body.Events)
	}
}
