// Package worker runs the Python face engine as a child process and speaks a
// length-prefixed binary protocol with it. Requests go over stdin, responses
// come back on a dedicated pipe (FD 3) so the engine's own logging on stdout
// and stderr can never corrupt the stream.
package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/sirupsen/logrus"
)

// Opcodes understood by python/engine.py.
const (
	OpDetect    byte = 'D'
	OpRepresent byte = 'R'
	OpEmotion   byte = 'E'
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxResponse guards against reading garbage lengths after a crash.
const maxResponse = 64 * 1024 * 1024

// ErrClosed is returned after Close.
var ErrClosed = errors.New("python worker is closed")

// Config controls how the engine process is launched.
type Config struct {
	Python string // interpreter, default "python3"
	Script string // default "python/engine.py"
	Args   []string
}

type PythonWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu     sync.Mutex
	closed bool
}

// NewPythonWorker starts the engine and wires the FD 3 side channel.
func NewPythonWorker(cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/engine.py"
	}
	args := append([]string{"-u", cfg.Script}, cfg.Args...)
	py := utils.NewSafeCommand(cfg.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	logrus.WithFields(logrus.Fields{"script": cfg.Script, "pid": py.Process.Pid}).Info("face engine started")

	return &PythonWorker{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one request and returns the JSON body of the reply.
// Exchanges are serialized; the engine handles one request at a time.
//
// Request:  [uint32 len][opcode][payload]
// Response: [uint32 len][status][body]; on error body is [uint32 msglen][msg].
func (w *PythonWorker) Communicate(op byte, payload []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(payload)+1)); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(append([]byte{op}, payload...)); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}
	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, err
	}

	switch body[0] {
	case statusOK:
		return body[1:], nil
	case statusError:
		rest := body[1:]
		if len(rest) < 4 {
			return nil, errors.New("python worker error: truncated message")
		}
		msgLen := binary.BigEndian.Uint32(rest[:4])
		if int(msgLen) > len(rest)-4 {
			return nil, errors.New("python worker error: truncated message")
		}
		return nil, fmt.Errorf("python worker error: %s", rest[4:4+msgLen])
	default:
		return nil, fmt.Errorf("unknown response status %d", body[0])
	}
}

func (w *PythonWorker) call(ctx context.Context, op byte, img image.Image, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := utils.EncodeJPEG(img)
	if err != nil {
		return err
	}
	resp, err := w.Communicate(op, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp, out); err != nil {
		// Check if it's an engine error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
			return fmt.Errorf("engine: %s", errorResult.Error)
		}
		return fmt.Errorf("malformed engine response: %w", err)
	}
	return nil
}

// DetectFaces returns every face the engine's detector reports.
func (w *PythonWorker) DetectFaces(ctx context.Context, img image.Image) ([]types.Face, error) {
	var faces []types.Face
	if err := w.call(ctx, OpDetect, img, &faces); err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	return faces, nil
}

// Represent returns the embedding of a face crop.
func (w *PythonWorker) Represent(ctx context.Context, face image.Image) ([]float64, error) {
	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := w.call(ctx, OpRepresent, face, &resp); err != nil {
		return nil, fmt.Errorf("extracting embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("extracting embedding: engine returned an empty vector")
	}
	return resp.Embedding, nil
}

// Analyze returns the dominant emotion of a face crop.
func (w *PythonWorker) Analyze(ctx context.Context, face image.Image) (types.Emotion, error) {
	var em types.Emotion
	if err := w.call(ctx, OpEmotion, face, &em); err != nil {
		return types.Emotion{}, fmt.Errorf("analyzing emotion: %w", err)
	}
	return em, nil
}

// Close stops the engine. It is safe to call more than once.
func (w *PythonWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		return w.Cmd.Wait()
	}
	return nil
}
