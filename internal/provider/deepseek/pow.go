package deepseek

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// The DeepSeek completion endpoint requires a proof-of-work response computed
// by the same WASM artifact the web client ships. The hash formula inside the
// binary is not documented, so the artifact is executed as-is through wazero
// rather than reimplemented natively. The build embeds whatever artifact is
// checked in; deployments can point deepseek.pow-wasm at the real file
// without rebuilding.
//
//go:embed sha3_wasm_bg.7b9ca65ddd.wasm
var embeddedPowWasm []byte

const powAlgorithm = "DeepSeekHashV1"

// The real sha3 artifact is several hundred kilobytes; anything smaller is a
// stand-in that cannot carry the solver exports.
const minPowArtifactSize = 1024

// Fallbacks for challenges that omit these fields. They mirror the web client
// verbatim for wire compatibility; the expire_at value in particular is stale
// upstream and kept only because the solver input must match.
const (
	defaultDifficulty = 144000
	defaultExpireAt   = 1680000000
)

// PowChallenge is the challenge returned by create_pow_challenge.
type PowChallenge struct {
	Algorithm  string  `json:"algorithm"`
	Challenge  string  `json:"challenge"`
	Salt       string  `json:"salt"`
	Difficulty float64 `json:"difficulty"`
	ExpireAt   int64   `json:"expire_at"`
	Signature  string  `json:"signature"`
	TargetPath string  `json:"target_path"`
}

// Prefix returns the solver prefix string "{salt}_{expire_at}_".
func (c *PowChallenge) Prefix() string {
	expireAt := c.ExpireAt
	if expireAt == 0 {
		expireAt = defaultExpireAt
	}
	return fmt.Sprintf("%s_%d_", c.Salt, expireAt)
}

// PowSolver runs the solver WASM module. The module is compiled once and
// instantiated per solve, so concurrent requests never share instance memory.
type PowSolver struct {
	wasmPath string

	once     sync.Once
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	initErr  error
}

// NewPowSolver returns an uninitialized solver; compilation is deferred until
// the first solve. wasmPath optionally overrides the embedded artifact with a
// file loaded at runtime.
func NewPowSolver(wasmPath string) *PowSolver {
	return &PowSolver{wasmPath: wasmPath}
}

// artifact resolves the WASM bytes, rejecting stand-ins that cannot hold the
// solver exports.
func (s *PowSolver) artifact() ([]byte, error) {
	data := embeddedPowWasm
	if s.wasmPath != "" {
		loaded, err := os.ReadFile(s.wasmPath)
		if err != nil {
			return nil, fmt.Errorf("deepseek: read pow wasm from %s: %w", s.wasmPath, err)
		}
		data = loaded
	}
	if len(data) < minPowArtifactSize {
		return nil, fmt.Errorf("deepseek: pow wasm artifact is a %d-byte placeholder; set deepseek.pow-wasm to the web client's sha3 wasm", len(data))
	}
	return data, nil
}

// CheckArtifact reports whether a usable solver artifact is available without
// spinning up the runtime. Called at adapter construction so a bad deployment
// fails loudly at startup instead of on the first request.
func (s *PowSolver) CheckArtifact() error {
	_, err := s.artifact()
	return err
}

func (s *PowSolver) init(ctx context.Context) error {
	s.once.Do(func() {
		wasm, err := s.artifact()
		if err != nil {
			s.initErr = err
			return
		}
		s.runtime = wazero.NewRuntime(ctx)
		compiled, err := s.runtime.CompileModule(ctx, wasm)
		if err != nil {
			s.initErr = fmt.Errorf("deepseek: compile pow wasm: %w", err)
			return
		}
		s.compiled = compiled
	})
	return s.initErr
}

// Close releases the WASM runtime.
func (s *PowSolver) Close(ctx context.Context) {
	if s.runtime != nil {
		_ = s.runtime.Close(ctx)
	}
}

// Solve runs wasm_solve for the challenge and returns the integer answer.
// The export ABI is fixed: a 16-byte return region is carved off the shadow
// stack, challenge and prefix are copied into freshly allocated buffers, and
// the result is a little-endian i32 status followed by an f64 value at +8.
// Status 0 means the solver found no answer.
func (s *PowSolver) Solve(ctx context.Context, challenge *PowChallenge) (int64, error) {
	if challenge.Algorithm != powAlgorithm {
		return 0, fmt.Errorf("deepseek: unsupported pow algorithm %q", challenge.Algorithm)
	}
	if err := s.init(ctx); err != nil {
		return 0, err
	}
	module, err := s.runtime.InstantiateModule(ctx, s.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return 0, fmt.Errorf("deepseek: instantiate pow wasm: %w", err)
	}
	defer func() { _ = module.Close(ctx) }()

	memory := module.Memory()
	addToStack := module.ExportedFunction("__wbindgen_add_to_stack_pointer")
	alloc := module.ExportedFunction("__wbindgen_export_0")
	wasmSolve := module.ExportedFunction("wasm_solve")
	if memory == nil || addToStack == nil || alloc == nil || wasmSolve == nil {
		return 0, fmt.Errorf("deepseek: pow wasm is missing required exports")
	}

	ret, err := addToStack.Call(ctx, api.EncodeI32(-16))
	if err != nil {
		return 0, err
	}
	retPtr := api.DecodeI32(ret[0])
	defer func() { _, _ = addToStack.Call(ctx, api.EncodeI32(16)) }()

	writeString := func(value string) (int32, int32, error) {
		data := []byte(value)
		res, errAlloc := alloc.Call(ctx, uint64(len(data)), 1)
		if errAlloc != nil {
			return 0, 0, errAlloc
		}
		ptr := api.DecodeI32(res[0])
		if !memory.Write(uint32(ptr), data) {
			return 0, 0, fmt.Errorf("deepseek: pow wasm memory write out of range")
		}
		return ptr, int32(len(data)), nil
	}

	challengePtr, challengeLen, err := writeString(challenge.Challenge)
	if err != nil {
		return 0, err
	}
	prefixPtr, prefixLen, err := writeString(challenge.Prefix())
	if err != nil {
		return 0, err
	}

	difficulty := challenge.Difficulty
	if difficulty == 0 {
		difficulty = defaultDifficulty
	}
	_, err = wasmSolve.Call(ctx,
		api.EncodeI32(retPtr),
		api.EncodeI32(challengePtr), api.EncodeI32(challengeLen),
		api.EncodeI32(prefixPtr), api.EncodeI32(prefixLen),
		api.EncodeF64(difficulty),
	)
	if err != nil {
		return 0, fmt.Errorf("deepseek: wasm_solve: %w", err)
	}

	status, ok := memory.ReadUint32Le(uint32(retPtr))
	if !ok {
		return 0, fmt.Errorf("deepseek: pow wasm return region out of range")
	}
	if status == 0 {
		return 0, fmt.Errorf("deepseek: pow solver found no answer")
	}
	bits, ok := memory.ReadUint64Le(uint32(retPtr) + 8)
	if !ok {
		return 0, fmt.Errorf("deepseek: pow wasm return region out of range")
	}
	return int64(math.Trunc(math.Float64frombits(bits))), nil
}

// PowResponseHeader renders the solved challenge as the base64 JSON payload
// sent in the x-ds-pow-response header.
func PowResponseHeader(challenge *PowChallenge, answer int64) string {
	payload := map[string]any{
		"algorithm":   challenge.Algorithm,
		"challenge":   challenge.Challenge,
		"salt":        challenge.Salt,
		"answer":      answer,
		"signature":   challenge.Signature,
		"target_path": challenge.TargetPath,
	}
	data, _ := json.Marshal(payload)
	return base64.StdEncoding.EncodeToString(data)
}
