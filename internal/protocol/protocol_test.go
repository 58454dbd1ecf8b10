package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/sanonone/pias/pkg/graph"
)

func TestInt64Frames(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -1 << 62} {
		got, err := DecodeInt64(EncodeInt64(v))
		if err != nil || got != v {
			t.Errorf("round trip %d = %d, %v", v, got, err)
		}
	}
	if _, err := DecodeInt64([]byte{1, 2, 3}); !errors.Is(err, ErrIntSize) {
		t.Errorf("short frame error = %v", err)
	}
}

func TestSegmentationDump(t *testing.T) {
	seg := []uint64{0, 0, 1, 2, 1}
	dump := DumpSegmentation(seg)
	if len(dump) != 40 {
		t.Fatalf("dump length %d", len(dump))
	}
	got, err := ParseSegmentation(dump)
	if err != nil || !reflect.DeepEqual(got, seg) {
		t.Errorf("ParseSegmentation = %v, %v", got, err)
	}
	if got, err := ParseSegmentation(nil); err != nil || len(got) != 0 {
		t.Errorf("empty dump = %v, %v", got, err)
	}
	if _, err := ParseSegmentation(make([]byte, 7)); !errors.Is(err, ErrDumpSize) {
		t.Errorf("ragged dump error = %v", err)
	}
}

func TestTriples(t *testing.T) {
	triples := []Triple{{U: 1, V: 0, Label: 1}, {U: 2, V: 3, Label: 0}}
	payload := EncodeTriples(triples)
	if len(payload) != 2*TripleSize {
		t.Fatalf("payload length %d", len(payload))
	}
	got, err := DecodeTriples(payload)
	if err != nil || !reflect.DeepEqual(got, triples) {
		t.Fatalf("DecodeTriples = %v, %v", got, err)
	}

	edges, labels, err := Split(got)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	wantEdges := []graph.Edge{{U: 0, V: 1}, {U: 2, V: 3}}
	if !reflect.DeepEqual(edges, wantEdges) || !reflect.DeepEqual(labels, []int{1, 0}) {
		t.Errorf("Split = %v %v", edges, labels)
	}

	if _, err := DecodeTriples(make([]byte, 25)); !errors.Is(err, ErrTripleSize) {
		t.Errorf("ragged payload error = %v", err)
	}
	if _, _, err := Split([]Triple{{U: -1, V: 2}}); err == nil {
		t.Error("negative node id accepted")
	}
}

func TestReplyAndNotification(t *testing.T) {
	r, err := ParseReply(Reply{Status: Exception, Body: []byte("bad")}.Frames())
	if err != nil || r.Status != Exception || string(r.Body) != "bad" {
		t.Errorf("ParseReply = %+v, %v", r, err)
	}
	if _, err := ParseReply([][]byte{EncodeInt64(0)}); !errors.Is(err, ErrFrameCount) {
		t.Errorf("one-frame reply error = %v", err)
	}

	n, err := ParseNotification(Notification{SolutionID: 7, Outcome: 2}.Frames())
	if err != nil || n.SolutionID != 7 || n.Outcome != 2 {
		t.Errorf("ParseNotification = %+v, %v", n, err)
	}
}

func TestMessageBodies(t *testing.T) {
	body, err := EncodeMessage([][]byte{EncodeInt64(MethodEdgeList), nil, []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	frames, err := DecodeMessage(body, 0)
	if err != nil || len(frames) != 3 || string(frames[2]) != "x" || len(frames[1]) != 0 {
		t.Fatalf("DecodeMessage = %q, %v", frames, err)
	}

	empty, _ := EncodeMessage(nil)
	if frames, err := DecodeMessage(empty, 0); err != nil || len(frames) != 1 || len(frames[0]) != 0 {
		t.Errorf("empty message decoded as %q, %v", frames, err)
	}

	testCases := []struct {
		name string
		body []byte
	}{
		{"empty body", nil},
		{"garbage", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"truncated", body[:len(body)-1]},
		{"trailing", append(append([]byte{}, body...), 0xA5)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeMessage(tc.body, 0); err == nil {
				t.Error("malformed body accepted")
			}
		})
	}
	if _, err := DecodeMessage(body, 2); err == nil {
		t.Error("frame bound ignored")
	}
}

func TestAddresses(t *testing.T) {
	testCases := []struct {
		name    string
		base    string
		want    map[string]Addr
		wantErr bool
	}{
		{
			name: "unix",
			base: "unix:///tmp/pias",
			want: map[string]Addr{
				EndpointPing:            {"unix", "/tmp/pias-ping"},
				EndpointCurrentSolution: {"unix", "/tmp/pias-current-solution"},
				EndpointSetEdgeLabels:   {"unix", "/tmp/pias-set-edge-labels"},
				EndpointUpdateSolution:  {"unix", "/tmp/pias-update-solution"},
				EndpointNewSolution:     {"unix", "/tmp/pias-new-solution"},
			},
		},
		{
			name: "tcp",
			base: "tcp://127.0.0.1:7000",
			want: map[string]Addr{
				EndpointPing:            {"tcp", "127.0.0.1:7000"},
				EndpointCurrentSolution: {"tcp", "127.0.0.1:7001"},
				EndpointSetEdgeLabels:   {"tcp", "127.0.0.1:7002"},
				EndpointUpdateSolution:  {"tcp", "127.0.0.1:7003"},
				EndpointNewSolution:     {"tcp", "127.0.0.1:7004"},
			},
		},
		{name: "no scheme", base: "/tmp/pias", wantErr: true},
		{name: "unknown scheme", base: "udp://x:1", wantErr: true},
		{name: "port overflow", base: "tcp://localhost:65534", wantErr: true},
		{name: "missing port", base: "tcp://localhost", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Addresses(tc.base)
			if tc.wantErr {
				if !errors.Is(err, ErrBadAddress) {
					t.Errorf("error = %v, want ErrBadAddress", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Addresses: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAddrURL(t *testing.T) {
	testCases := []struct {
		addr Addr
		want string
	}{
		{Addr{"unix", "/tmp/pias-ping"}, "ipc:///tmp/pias-ping"},
		{Addr{"tcp", "127.0.0.1:7000"}, "tcp://127.0.0.1:7000"},
	}
	for _, tc := range testCases {
		if got := tc.addr.URL(); got != tc.want {
			t.Errorf("%v.URL() = %q, want %q", tc.addr, got, tc.want)
		}
	}
}
