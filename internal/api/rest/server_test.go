package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/adc"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/api/websocket"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/auth"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/board"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/calibration"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/dio"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/flash"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interfaces"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/metrics"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type thermometer struct{}

func (thermometer) Temperature() float32    { return 27 }
func (thermometer) MinTemperature() float32 { return 20 }
func (thermometer) MaxTemperature() float32 { return 35 }

type instrument struct {
	board      *board.Board
	banks      *channel.Banks
	dispatcher *interpreter.Dispatcher
	controller *machine.Controller
	engine     *calibration.Engine
	shutdowns  chan struct{}
}

func (i *instrument) Board() *board.Board                       { return i.board }
func (i *instrument) Banks() *channel.Banks                     { return i.banks }
func (i *instrument) Dispatcher() *interpreter.Dispatcher       { return i.dispatcher }
func (i *instrument) Controller() *machine.Controller           { return i.controller }
func (i *instrument) Calibration() *calibration.Engine          { return i.engine }
func (i *instrument) Thermometer() interfaces.Thermometer       { return thermometer{} }
func (i *instrument) Archive() *storage.PostgresClient          { return nil }
func (i *instrument) Shutdown(context.Context) error            { close(i.shutdowns); return nil }
func (i *instrument) GetCurrentStatus() interfaces.SystemStatus { return interfaces.SystemStatus{State: "RUNNING"} }

func newTestServer(t *testing.T) (*Server, *instrument) {
	t.Helper()
	return newGuardedTestServer(t, nil)
}

func newGuardedTestServer(t *testing.T, authService *auth.Service) (*Server, *instrument) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := calibration.NewStore(flash.NewMemory(8192), logger)
	require.NoError(t, store.Init())
	conv := adc.NewSimulator(adc.DefaultSignal, 0, logger)
	io := dio.NewSimulator(8, 4)
	engine := calibration.NewEngine(store, conv, thermometer{}, calibration.EngineConfig{ValidMinTemp: 0, ValidMaxTemp: 70}, logger)

	b, err := board.New(board.DefaultProfile(), store, nil, logger)
	require.NoError(t, err)

	sink := sampling.SinkFunc(func(context.Context, sampling.Reading) error { return nil })
	machines := interpreter.Machines{
		Analog:  sampling.NewMachine("analog", time.Hour, sink, logger),
		Inputs:  sampling.NewMachine("digital_input", time.Hour, sink, logger),
		Outputs: sampling.NewMachine("digital_output", time.Hour, sink, logger),
	}
	t.Cleanup(func() {
		machines.Analog.Halt()
		machines.Inputs.Halt()
		machines.Outputs.Halt()
	})

	inst := &instrument{
		board:      b,
		banks:      channel.NewBanks(36, 8, 4),
		controller: machine.NewController(logger),
		engine:     engine,
		shutdowns:  make(chan struct{}),
	}
	inst.dispatcher = interpreter.New(interpreter.Dependencies{
		Board:       b,
		Banks:       inst.banks,
		Converter:   conv,
		Inputs:      io,
		Outputs:     io,
		Calibration: engine,
		Thermometer: thermometer{},
		Machines:    machines,
		Controller:  inst.controller,
	}, command.DefaultLimits(), logger)

	cfg := &config.Config{Server: config.ServerConfig{HTTPPort: 0}}
	return NewServer(cfg, inst, websocket.NewHub(logger), metrics.New().Handler(), authService, logger), inst
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, s, "", method, path, body)
}

func doAs(t *testing.T, s *Server, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndStatus(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = do(t, s, http.MethodGet, "/api/v1/system/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RUNNING", decode(t, w)["state"])

	w = do(t, s, http.MethodGet, "/api/v1/state", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["state"])
}

func TestExecuteCommand(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "ADD_DIGITAL_INPUT --INPUT=2 --NAME=DOOR"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ADD_DIGITAL_INPUT", body["command"])
	assert.Equal(t, "SUCCESS - Command executed successfully", body["status"])

	w = do(t, s, http.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inputs := decode(t, w)["digital_input"].([]any)
	require.Len(t, inputs, 1)
	assert.Equal(t, "DOOR", inputs[0].(map[string]any)["name"])

	w = do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "LIST_DIGITAL_INPUTS"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["lines"], "Digital Input 2: DOOR")
}

func TestExecuteCommandFunctionError(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "REMOVE_ANALOG_INPUT --INPUT=5"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	failure := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "COMMAND_422", failure["code"])
	assert.Equal(t, "REMOVE_ANALOG_INPUT", failure["command"])
	assert.Contains(t, failure["message"], "Analog input does not exist")
	assert.Equal(t, float64(command.StatusFunctionError), failure["status"].(map[string]any)["code"])
	assert.Equal(t, "Analog input does not exist", failure["cause"].(map[string]any)["message"])

	w = do(t, s, http.MethodGet, "/api/v1/commands/last-error", nil)
	assert.Equal(t, "Analog input does not exist", decode(t, w)["message"])

	// Reading the last error clears it.
	w = do(t, s, http.MethodGet, "/api/v1/commands/last-error", nil)
	assert.Equal(t, float64(command.FunctionOK), decode(t, w)["code"])
}

func TestExecuteCommandFailureWithoutCause(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "NOT_A_COMMAND"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	failure := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "COMMAND_422", failure["code"])
	assert.NotEqual(t, float64(command.StatusOK), failure["status"].(map[string]any)["code"])
	assert.NotContains(t, failure, "cause")
}

func TestExecuteCommandRejections(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "disconnect"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "UPGRADE"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/commands", map[string]string{"line": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoardAndCalibration(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/board", nil)
	require.Equal(t, http.StatusOK, w.Code)
	identity := decode(t, w)["identity"].(map[string]any)
	assert.Equal(t, "E", identity["revision"])
	assert.Equal(t, "192.168.1.150", identity["ip_address"])

	w = do(t, s, http.MethodGet, "/api/v1/calibration", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, false, body["programmed"])
	assert.Equal(t, false, body["write_mode"])
	assert.Equal(t, float64(27), body["temperature"].(map[string]any)["current"])
}

func TestArchiveDisabled(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/archive/analog_input/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = do(t, s, http.MethodOptions, "/api/v1/commands", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdown(t *testing.T) {
	s, inst := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/v1/system/shutdown", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-inst.shutdowns:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not requested")
	}
}

func TestControlRoutesRequireAuth(t *testing.T) {
	hash, err := auth.NewPasswordHasherWithCost(1024, 1).HashPassword("bench")
	require.NoError(t, err)
	machineToken, machineHash, err := auth.GenerateMachineToken()
	require.NoError(t, err)

	svc, err := auth.NewService(config.AuthConfig{
		Enabled:   true,
		JWTSecret: "rest-test",
		Issuer:    "tekdaqc",
		Operators: []config.OperatorConfig{{Username: "tech", PasswordHash: hash, Role: auth.RoleOperator}},
		MachineTokens: []config.MachineTokenConfig{
			{Name: "scada", Hash: machineHash, Permissions: []string{"observe", "operate", "admin"}},
		},
	}, zap.NewNop())
	require.NoError(t, err)
	s, inst := newGuardedTestServer(t, svc)

	line := map[string]string{"line": "LIST_ANALOG_INPUTS"}
	w := do(t, s, http.MethodPost, "/api/v1/commands", line)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_401", decode(t, w)["error"].(map[string]any)["code"])
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/api/v1/system/shutdown", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/v1/commands/last-error", nil).Code)

	// Read only routes stay open.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/system/status", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/board", nil).Code)

	w = do(t, s, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "tech", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "tech", "password": "bench"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["access_token"].(string)

	assert.Equal(t, http.StatusOK, doAs(t, s, token, http.MethodPost, "/api/v1/commands", line).Code)
	assert.Equal(t, http.StatusForbidden, doAs(t, s, token, http.MethodPost, "/api/v1/system/shutdown", nil).Code)

	w = doAs(t, s, machineToken, http.MethodPost, "/api/v1/system/shutdown", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	select {
	case <-inst.shutdowns:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not requested")
	}
}
