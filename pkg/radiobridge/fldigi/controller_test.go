package fldigi

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

var (
	methodRx = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)
	stringRx = regexp.MustCompile(`<string>([^<]*)</string>`)
)

// fakeFldigi answers the subset of fldigi's XML-RPC methods the controller uses.
type fakeFldigi struct {
	mu       sync.Mutex
	calls    []string
	txText   string
	rx       []byte
	txPolls  int
	modem    string
	faultFor string
}

func (f *fakeFldigi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	method := methodRx.FindSubmatch(body)
	if method == nil {
		http.Error(w, "no method", http.StatusBadRequest)
		return
	}
	name := string(method[1])

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)

	if name == f.faultFor {
		writeResponse(w, `<fault><value><struct>`+
			`<member><name>faultCode</name><value><int>-1</int></value></member>`+
			`<member><name>faultString</name><value><string>no such method</string></value></member>`+
			`</struct></value></fault>`)
		return
	}

	value := "<string></string>"
	switch name {
	case "text.add_tx":
		if m := stringRx.FindSubmatch(body); m != nil {
			f.txText = string(m[1])
		}
	case "main.get_trx_state":
		state := "RX"
		if f.txPolls > 0 {
			f.txPolls--
			state = "TX"
		}
		value = "<string>" + state + "</string>"
	case "rx.get_data":
		value = "<base64>" + base64.StdEncoding.EncodeToString(f.rx) + "</base64>"
		f.rx = nil
	case "fldigi.version":
		value = "<string>4.1.23</string>"
	case "modem.get_name":
		value = "<string>" + f.modem + "</string>"
	case "modem.get_names":
		value = "<array><data><value><string>BPSK63</string></value>" +
			"<value><string>PSK125R</string></value></data></array>"
	case "modem.set_by_name":
		if m := stringRx.FindSubmatch(body); m != nil {
			f.modem = string(m[1])
		}
	case "modem.get_carrier", "modem.get_bandwidth":
		value = "<int>1500</int>"
	case "rig.get_mode":
		value = "<string>USB</string>"
	case "main.get_frequency":
		value = "<double>7070000.000000</double>"
	}
	writeResponse(w, "<params><param><value>"+value+"</value></param></params>")
}

func writeResponse(w http.ResponseWriter, inner string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0"?><methodResponse>%s</methodResponse>`, inner)
}

func (f *fakeFldigi) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestController(t *testing.T, fake *fakeFldigi) *Controller {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/RPC2", nil)
	require.NoError(t, err)
	c.StatePollInterval = 5 * time.Millisecond
	return c
}

func TestStartTransmitBlocking(t *testing.T) {
	fake := &fakeFldigi{txPolls: 3}
	c := newTestController(t, fake)

	err := c.StartTransmit(context.Background(), []byte("BTCQQ=="), true, time.Second)
	require.NoError(t, err)

	calls := fake.callLog()
	assert.Equal(t, []string{"text.clear_tx", "text.add_tx", "main.tx"}, calls[:3])
	assert.Equal(t, "BTCQQ==^r", fake.txText)
	assert.Len(t, calls, 3+4)
}

func TestStartTransmitTimeout(t *testing.T) {
	fake := &fakeFldigi{txPolls: 1 << 20}
	c := newTestController(t, fake)

	err := c.StartTransmit(context.Background(), []byte("x"), true, 30*time.Millisecond)
	assert.ErrorIs(t, err, radiobridge.ErrTimedOut)
}

func TestPollReceived(t *testing.T) {
	fake := &fakeFldigi{rx: []byte("BTC\r\n")}
	c := newTestController(t, fake)

	data, err := c.PollReceived(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("BTC\r\n"), data)

	data, err = c.PollReceived(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReleaseCommands(t *testing.T) {
	fake := &fakeFldigi{}
	c := newTestController(t, fake)

	require.NoError(t, c.AbortTransmit(context.Background()))
	require.NoError(t, c.SetReceiveMode(context.Background()))
	assert.Equal(t, []string{"main.abort", "main.rx"}, fake.callLog())
}

func TestInfoAndConfigure(t *testing.T) {
	fake := &fakeFldigi{modem: "BPSK63"}
	c := newTestController(t, fake)

	require.NoError(t, c.Configure(context.Background(), Settings{Modem: "PSK125R", Carrier: 1000}))
	assert.Contains(t, fake.callLog(), "main.set_afc")

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.1.23", info.Version)
	assert.Equal(t, "PSK125R", info.Modem)
	assert.Equal(t, 1500, info.Carrier)
	assert.Equal(t, "USB", info.RigMode)
	assert.InDelta(t, 7070000.0, info.Frequency, 0.1)

	err = c.Configure(context.Background(), Settings{Modem: "OLIVIA"})
	assert.ErrorContains(t, err, "unknown modem")
}

func TestFaultIsNotUnavailable(t *testing.T) {
	fake := &fakeFldigi{faultFor: "main.abort"}
	c := newTestController(t, fake)

	err := c.AbortTransmit(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, radiobridge.ErrChannelUnavailable)
}

func TestUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url+"/RPC2", nil)
	require.NoError(t, err)
	_, err = c.TransmitState(context.Background())
	assert.ErrorIs(t, err, radiobridge.ErrChannelUnavailable)
}
