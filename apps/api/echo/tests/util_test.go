package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/licita/apps/api/echo"
	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
	logsvc "github.com/trezcool/licita/services/logger"
	"github.com/trezcool/licita/tests"
)

type env struct {
	conf  *core.Config
	app   *Server
	store testutil.Store
	svc   *licitacion.Service
}

func setup(t *testing.T, configure ...func(conf *core.Config)) env {
	conf := testutil.NewConfig()
	for _, fn := range configure {
		fn(conf)
	}

	// set up store & services
	store := testutil.PrepareDB()
	svc := testutil.NewService(store)
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "API : ", log.LstdFlags), conf)

	// set up server
	app := NewServer(
		&Options{
			Conf:           conf,
			Logger:         logger,
			DisableReqLogs: true,
			LicitacionSvc:  svc,
			Gate:           access.NewGate(store.Roles),
		},
	)
	return env{conf: conf, app: app, store: store, svc: svc}
}

type httpErr struct {
	Error        string            `json:"error"`
	Campos       map[string]string `json:"campos,omitempty"`
	EstadoActual string            `json:"estado_actual,omitempty"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func (e env) token(t *testing.T, userID string) string {
	claims := GetClaims(core.Principal{UserID: userID, Email: userID + "@test.cl"}, e.conf)
	token, err := GenerateToken(claims, e.conf.SecretKey)
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

func (e env) do(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	e.app.ServeHTTP(rec, req)
	return rec
}

func (e env) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, e.do(tt))
		})
	}
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, key string, dst interface{}) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope[key], dst); err != nil {
		t.Fatalf("unmarshal(%q) failed: %v; body %s", key, err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, "code; body %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func school(id int64) *int64 { return &id }
