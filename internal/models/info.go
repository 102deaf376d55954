package models

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/backend"
)

// Details describes one model identifier.
type Details struct {
	ID       string
	Kind     backend.Kind
	Provider string // remote kinds only
	Path     string // local kinds, empty when the model is not on disk
	Format   Format
	Size     int64
	Metadata map[string]string
}

// SortedKeys returns the metadata keys in order.
func (d *Details) SortedKeys() []string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Inspect resolves id and reads what it can about it. Local GGUF models
// must exist; PyTorch and diffusion ids that are not on disk are assumed to
// be hub ids fetched on first use.
func Inspect(id string, env backend.Env) (*Details, error) {
	kind := backend.Resolve(id, env)
	d := &Details{ID: id, Kind: kind, Metadata: map[string]string{}}
	if kind.IsRemote() {
		d.Provider = kind.Provider()
		return d, nil
	}

	path := backend.LocalPath(id, env)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if kind == backend.LocalGGUF {
			return nil, &apperr.Error{
				Kind:    apperr.NotFound,
				Message: fmt.Sprintf("model file not found: %s", path),
				Remedy:  "ai download <repo> --gguf",
			}
		}
		d.Metadata["location"] = "hub (downloaded on first use)"
		return d, nil
	}
	d.Path = path

	if info.IsDir() {
		format, ok := snapshotFormat(path)
		if !ok {
			return nil, apperr.Usagef("%s is a directory but not a model directory (no %s)", path, configFile)
		}
		d.Format = format
		d.Size, _ = dirStats(path)
		inspectSnapshot(path, d.Metadata)
		return d, nil
	}

	d.Size = info.Size()
	d.Format = fileFormats[strings.ToLower(filepath.Ext(path))]
	switch d.Format {
	case FormatGGUF:
		err = readGGUF(path, d.Metadata)
	case FormatSafetensors:
		err = readSafetensors(path, d.Metadata)
	}
	if err != nil {
		d.Metadata["error"] = err.Error()
	}
	return d, nil
}

// inspectSnapshot reads config.json and counts safetensors parameters.
func inspectSnapshot(dir string, meta map[string]string) {
	if data, err := os.ReadFile(filepath.Join(dir, configFile)); err == nil {
		var cfg struct {
			ModelType     string   `json:"model_type"`
			Architectures []string `json:"architectures"`
			TorchDtype    string   `json:"torch_dtype"`
			MaxPositions  int      `json:"max_position_embeddings"`
		}
		if json.Unmarshal(data, &cfg) == nil {
			setIf(meta, "model_type", cfg.ModelType)
			if len(cfg.Architectures) > 0 {
				meta["architecture"] = cfg.Architectures[0]
			}
			setIf(meta, "dtype", cfg.TorchDtype)
			if cfg.MaxPositions > 0 {
				meta["context_length"] = strconv.Itoa(cfg.MaxPositions)
			}
		}
	}

	shards, _ := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	var params int64
	for _, s := range shards {
		m := map[string]string{}
		if err := readSafetensors(s, m); err != nil {
			return
		}
		n, _ := strconv.ParseInt(m["parameters_exact"], 10, 64)
		params += n
	}
	if params > 0 {
		meta["parameters"] = FormatCount(params)
		meta["shards"] = strconv.Itoa(len(shards))
	}
}

func setIf(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// GGUF metadata value types.
const (
	ggufUint8 uint32 = iota
	ggufInt8
	ggufUint16
	ggufInt16
	ggufUint32
	ggufInt32
	ggufFloat32
	ggufBool
	ggufString
	ggufArray
	ggufUint64
	ggufInt64
	ggufFloat64
)

const (
	ggufMagic        = "GGUF"
	maxGGUFString    = 1 << 20
	maxGGUFKeyValues = 64
)

var errBadGGUF = errors.New("not a valid GGUF file")

// readGGUF reads the GGUF header and the scalar metadata that precedes the
// tokenizer section.
func readGGUF(path string, meta map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	r := &ggufReader{r: bufio.NewReader(f)}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r.r, magic); err != nil || string(magic) != ggufMagic {
		return errBadGGUF
	}
	version := r.u32()
	meta["gguf_version"] = strconv.FormatUint(uint64(version), 10)
	if version < 2 {
		return r.err
	}
	tensors := r.u64()
	kvs := r.u64()
	if r.err != nil {
		return errBadGGUF
	}
	meta["tensors"] = strconv.FormatUint(tensors, 10)

	for i := uint64(0); i < kvs && i < maxGGUFKeyValues; i++ {
		key := r.str()
		if r.err != nil || strings.HasPrefix(key, "tokenizer.") {
			break
		}
		value := r.value(r.u32())
		if r.err != nil {
			break
		}
		if value != "" {
			meta[key] = value
		}
	}
	if r.err != nil && !errors.Is(r.err, io.EOF) {
		return r.err
	}
	return nil
}

// ggufReader reads little-endian GGUF fields, latching the first error.
type ggufReader struct {
	r   *bufio.Reader
	err error
}

func (g *ggufReader) read(v any) {
	if g.err == nil {
		g.err = binary.Read(g.r, binary.LittleEndian, v)
	}
}

func (g *ggufReader) u32() uint32 {
	var v uint32
	g.read(&v)
	return v
}

func (g *ggufReader) u64() uint64 {
	var v uint64
	g.read(&v)
	return v
}

func (g *ggufReader) str() string {
	n := g.u64()
	if g.err != nil {
		return ""
	}
	if n > maxGGUFString {
		g.err = errBadGGUF
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.r, buf); err != nil {
		g.err = err
		return ""
	}
	return string(buf)
}

// value reads one value of type t. Arrays are skipped and summarised.
func (g *ggufReader) value(t uint32) string {
	switch t {
	case ggufUint8:
		var v uint8
		g.read(&v)
		return strconv.FormatUint(uint64(v), 10)
	case ggufInt8:
		var v int8
		g.read(&v)
		return strconv.FormatInt(int64(v), 10)
	case ggufUint16:
		var v uint16
		g.read(&v)
		return strconv.FormatUint(uint64(v), 10)
	case ggufInt16:
		var v int16
		g.read(&v)
		return strconv.FormatInt(int64(v), 10)
	case ggufUint32:
		return strconv.FormatUint(uint64(g.u32()), 10)
	case ggufInt32:
		var v int32
		g.read(&v)
		return strconv.FormatInt(int64(v), 10)
	case ggufFloat32:
		var v float32
		g.read(&v)
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case ggufBool:
		var v uint8
		g.read(&v)
		return strconv.FormatBool(v != 0)
	case ggufString:
		return g.str()
	case ggufUint64:
		return strconv.FormatUint(g.u64(), 10)
	case ggufInt64:
		var v int64
		g.read(&v)
		return strconv.FormatInt(v, 10)
	case ggufFloat64:
		var v float64
		g.read(&v)
		return strconv.FormatFloat(v, 'g', -1, 64)
	case ggufArray:
		elem := g.u32()
		n := g.u64()
		for i := uint64(0); i < n && g.err == nil; i++ {
			g.value(elem)
		}
		return fmt.Sprintf("[%d items]", n)
	}
	g.err = errBadGGUF
	return ""
}

// maxSafetensorsHeader bounds the JSON header read from a safetensors file.
const maxSafetensorsHeader = 100 << 20

// readSafetensors reads the JSON header of a safetensors file and totals
// the tensor shapes.
func readSafetensors(path string, meta map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("not a valid safetensors file: %w", err)
	}
	if n == 0 || n > maxSafetensorsHeader {
		return errors.New("not a valid safetensors file: bad header length")
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("not a valid safetensors file: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(header, &entries); err != nil {
		return fmt.Errorf("not a valid safetensors file: %w", err)
	}
	var params int64
	dtypes := map[string]bool{}
	tensors := 0
	for name, raw := range entries {
		if name == "__metadata__" {
			continue
		}
		var t struct {
			Dtype string  `json:"dtype"`
			Shape []int64 `json:"shape"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		count := int64(1)
		for _, dim := range t.Shape {
			if dim > 0 && count > math.MaxInt64/dim {
				return fmt.Errorf("tensor %s: shape overflows", name)
			}
			count *= dim
		}
		params += count
		dtypes[t.Dtype] = true
		tensors++
	}

	names := make([]string, 0, len(dtypes))
	for d := range dtypes {
		names = append(names, d)
	}
	sort.Strings(names)
	meta["tensors"] = strconv.Itoa(tensors)
	meta["dtype"] = strings.Join(names, ",")
	meta["parameters"] = FormatCount(params)
	meta["parameters_exact"] = strconv.FormatInt(params, 10)
	return nil
}
