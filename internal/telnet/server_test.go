package telnet

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/board"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/interpreter"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/machine"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/sampling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type noSerial struct{}

func (noSerial) SerialNumber() (string, error) { return "", nil }

type tracker struct{ open atomic.Int32 }

func (t *tracker) SessionOpened() { t.open.Add(1) }
func (t *tracker) SessionClosed() { t.open.Add(-1) }

func startServer(t *testing.T) (*Server, *tracker) {
	t.Helper()
	logger := zap.NewNop()

	b, err := board.New(board.DefaultProfile(), noSerial{}, nil, logger)
	require.NoError(t, err)
	sink := sampling.SinkFunc(func(context.Context, sampling.Reading) error { return nil })
	d := interpreter.New(interpreter.Dependencies{
		Board: b,
		Banks: channel.NewBanks(4, 4, 4),
		Machines: interpreter.Machines{
			Analog:  sampling.NewMachine("analog", time.Hour, sink, logger),
			Inputs:  sampling.NewMachine("digital_input", time.Hour, sink, logger),
			Outputs: sampling.NewMachine("digital_output", time.Hour, sink, logger),
		},
		Controller: machine.NewController(logger),
	}, command.DefaultLimits(), logger)

	tr := &tracker{}
	srv := NewServer("127.0.0.1:0", d, tr, logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv, tr
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\r')
	require.NoError(t, err)
	return strings.TrimSuffix(line, interpreter.LineEnding)
}

func TestSessionRoundTrip(t *testing.T) {
	srv, tr := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("ADD_DIGITAL_INPUT --INPUT=1 --NAME=DOOR\r\nlist_digital_inputs\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS - Command executed successfully", readLine(t, r))
	assert.Equal(t, "Digital Input 1: DOOR", readLine(t, r))
	assert.Equal(t, "SUCCESS - Command executed successfully", readLine(t, r))

	assert.Equal(t, 1, srv.Sessions())
	assert.Equal(t, int32(1), tr.open.Load())

	require.NoError(t, srv.Write(context.Background(), sampling.Reading{
		Type:      channel.TypeDigitalInput,
		Number:    1,
		Level:     true,
		Timestamp: time.UnixMicro(1500),
	}))
	assert.Equal(t, "?D1,1500,ON", readLine(t, r))

	_, err = conn.Write([]byte("DISCONNECT\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS - Command executed successfully", readLine(t, r))
	_, err = r.ReadString('\r')
	assert.ErrorIs(t, err, io.EOF)

	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), tr.open.Load())
}

func TestStopClosesSessions(t *testing.T) {
	srv, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return srv.Sessions() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop())
	assert.Equal(t, 0, srv.Sessions())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteLineGivesUpOnStalledClient(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	sess := newSession(server, 50*time.Millisecond)
	t.Cleanup(func() { sess.Close() })

	start := time.Now()
	err := sess.WriteLine("?A0")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	go io.Copy(io.Discard, client)
	assert.NoError(t, sess.WriteLine("?A0"))
}
