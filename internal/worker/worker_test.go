package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

// writeOK queues a successful JSON response from "Python".
func writeOK(pipe *MockCloser, body string) {
	binary.Write(pipe, binary.BigEndian, uint32(len(body)+1))
	pipe.WriteByte(statusOK)
	pipe.WriteString(body)
}

// writeErr queues an error response: [Status:1] [MsgLen] [Msg].
func writeErr(pipe *MockCloser, msg string) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	binary.Write(pipe, binary.BigEndian, uint32(payload.Len()))
	pipe.Write(payload.Bytes())
}

func testFace() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 8, 8))
}

func TestDetectFaces(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	writeOK(dataPipeMock, `[{"facial_area":{"x":10,"y":12,"w":30,"h":40},"confidence":0.97},{"facial_area":{"x":0,"y":0,"w":5,"h":5},"confidence":0.2}]`)

	faces, err := w.DetectFaces(context.Background(), testFace())
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}

	// Verify Go sent a framed request with the detect opcode
	sent := stdinMock.Bytes()
	if len(sent) < 5 {
		t.Fatalf("request too short: %d bytes", len(sent))
	}
	if n := binary.BigEndian.Uint32(sent[:4]); int(n) != len(sent)-4 {
		t.Errorf("length header = %d, body = %d bytes", n, len(sent)-4)
	}
	if sent[4] != OpDetect {
		t.Errorf("opcode = %q, want %q", sent[4], OpDetect)
	}

	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(faces))
	}
	want := types.Box{X: 10, Y: 12, W: 30, H: 40}
	if faces[0].Box != want {
		t.Errorf("box = %+v, want %+v", faces[0].Box, want)
	}
	if math.Abs(faces[0].Confidence-0.97) > 1e-9 {
		t.Errorf("confidence = %f", faces[0].Confidence)
	}
}

func TestRepresentAndAnalyze(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	writeOK(dataPipeMock, `{"embedding":[0.5,-0.25,1]}`)
	writeOK(dataPipeMock, `{"dominant_emotion":"happy","emotion":{"happy":91.2,"sad":1.1}}`)

	vec, err := w.Represent(context.Background(), testFace())
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 0.5 {
		t.Errorf("embedding = %v", vec)
	}
	if stdinMock.Bytes()[4] != OpRepresent {
		t.Errorf("first opcode = %q", stdinMock.Bytes()[4])
	}

	em, err := w.Analyze(context.Background(), testFace())
	if err != nil {
		t.Fatal(err)
	}
	if em.Dominant != "happy" || em.Scores["happy"] != 91.2 {
		t.Errorf("emotion = %+v", em)
	}
}

func TestCommunicate_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	errMsg := "Python Exception: Import Error"
	writeErr(dataPipeMock, errMsg)

	_, err := w.Communicate(OpDetect, []byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestRepresent_EngineErrorObject(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	writeOK(dataPipeMock, `{"error":"Face could not be detected"}`)

	// The error object decodes into the embedding struct with no vector.
	if _, err := w.Represent(context.Background(), testFace()); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestDetectFaces_Malformed(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	writeOK(dataPipeMock, `{"error":"detector exploded"}`)

	_, err := w.DetectFaces(context.Background(), testFace())
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("detector exploded")) {
		t.Errorf("expected engine error to surface, got %v", err)
	}
}

func TestCommunicate_Crash(t *testing.T) {
	// Empty pipe simulates the engine dying before answering.
	w, _, _ := newMockWorker()
	if _, err := w.Communicate(OpDetect, []byte("frame")); err == nil {
		t.Fatal("expected error when the engine does not answer")
	}
}

func TestClose(t *testing.T) {
	w, _, _ := newMockWorker()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := w.Communicate(OpDetect, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Communicate after Close = %v, want ErrClosed", err)
	}
}
