package scene

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

var plyTypeSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4, "double": 8, "float64": 8,
}

type plyProperty struct {
	name string
	typ  string
	list bool
}

type plyHeader struct {
	format   string
	vertices int
	props    []plyProperty
}

// ReadBounds returns the axis-aligned bounds of the vertex positions in a PLY
// file. ASCII and both binary encodings are supported; the vertex element
// must come first, which holds for point clouds and splat exports.
func ReadBounds(data []byte) (r3.Box, error) {
	h, body, err := parsePLYHeader(data)
	if err != nil {
		return r3.Box{}, err
	}
	if h.vertices <= 0 {
		return r3.Box{}, errors.New("scene: ply has no vertices")
	}
	idx := map[string]int{}
	for i, p := range h.props {
		idx[p.name] = i
	}
	for _, axis := range []string{"x", "y", "z"} {
		if _, ok := idx[axis]; !ok {
			return r3.Box{}, fmt.Errorf("scene: ply vertex lacks %q", axis)
		}
	}

	box := emptyBox()
	visit := func(x, y, z float64) {
		box = extend(box, r3.Vec{X: x, Y: y, Z: z})
	}
	switch h.format {
	case "ascii":
		err = readASCIIVertices(h, body, idx, visit)
	case "binary_little_endian":
		err = readBinaryVertices(h, body, idx, binary.LittleEndian, visit)
	case "binary_big_endian":
		err = readBinaryVertices(h, body, idx, binary.BigEndian, visit)
	default:
		err = fmt.Errorf("scene: unsupported ply format %q", h.format)
	}
	if err != nil {
		return r3.Box{}, err
	}
	return box, nil
}

func parsePLYHeader(data []byte) (plyHeader, []byte, error) {
	const marker = "end_header"
	if !bytes.HasPrefix(data, []byte("ply")) {
		return plyHeader{}, nil, errors.New("scene: not a ply file")
	}
	end := bytes.Index(data, []byte(marker))
	if end < 0 {
		return plyHeader{}, nil, errors.New("scene: ply header is not terminated")
	}
	body := data[end+len(marker):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	var (
		h        plyHeader
		inVertex bool
		elements int
	)
	for _, line := range strings.Split(string(data[:end]), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return h, nil, errors.New("scene: malformed ply format line")
			}
			h.format = fields[1]
		case "element":
			if len(fields) < 3 {
				return h, nil, errors.New("scene: malformed ply element line")
			}
			inVertex = fields[1] == "vertex"
			if inVertex {
				if elements > 0 {
					return h, nil, errors.New("scene: ply vertex element must come first")
				}
				n, err := strconv.Atoi(fields[2])
				if err != nil {
					return h, nil, fmt.Errorf("scene: ply vertex count: %w", err)
				}
				h.vertices = n
			}
			elements++
		case "property":
			if !inVertex {
				continue
			}
			if len(fields) >= 2 && fields[1] == "list" {
				h.props = append(h.props, plyProperty{name: fields[len(fields)-1], list: true})
				continue
			}
			if len(fields) < 3 {
				return h, nil, errors.New("scene: malformed ply property line")
			}
			h.props = append(h.props, plyProperty{typ: fields[1], name: fields[2]})
		}
	}
	if h.format == "" {
		return h, nil, errors.New("scene: ply format missing")
	}
	return h, body, nil
}

// minASCIIVertexBytes is the shortest possible vertex line, "0 0 0\n". The
// final line may drop its newline.
const minASCIIVertexBytes = 6

func readASCIIVertices(h plyHeader, body []byte, idx map[string]int, visit func(x, y, z float64)) error {
	if h.vertices > (len(body)+1)/minASCIIVertexBytes {
		return fmt.Errorf("scene: ply declares %d vertices in a %d byte body", h.vertices, len(body))
	}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	read := 0
	for read < h.vertices && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var xyz [3]float64
		for i, axis := range []string{"x", "y", "z"} {
			col := idx[axis]
			if col >= len(fields) {
				return fmt.Errorf("scene: ply vertex %d is short", read)
			}
			v, err := strconv.ParseFloat(fields[col], 64)
			if err != nil {
				return fmt.Errorf("scene: ply vertex %d: %w", read, err)
			}
			xyz[i] = v
		}
		visit(xyz[0], xyz[1], xyz[2])
		read++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scene: read ply body: %w", err)
	}
	if read < h.vertices {
		return fmt.Errorf("scene: ply declares %d vertices, found %d", h.vertices, read)
	}
	return nil
}

func readBinaryVertices(h plyHeader, body []byte, idx map[string]int, order binary.ByteOrder, visit func(x, y, z float64)) error {
	offsets := make([]int, len(h.props))
	stride := 0
	for i, p := range h.props {
		if p.list {
			return errors.New("scene: list properties on binary ply vertices are not supported")
		}
		size, ok := plyTypeSizes[p.typ]
		if !ok {
			return fmt.Errorf("scene: unknown ply type %q", p.typ)
		}
		offsets[i] = stride
		stride += size
	}
	if stride == 0 {
		return errors.New("scene: ply vertex has no properties")
	}
	// Compare by division: stride*vertices can overflow for hostile counts.
	if h.vertices > len(body)/stride {
		return fmt.Errorf("scene: ply declares %d vertices of %d bytes in a %d byte body", h.vertices, stride, len(body))
	}
	value := func(rec []byte, i int) float64 {
		b := rec[offsets[i]:]
		switch h.props[i].typ {
		case "char", "int8":
			return float64(int8(b[0]))
		case "uchar", "uint8":
			return float64(b[0])
		case "short", "int16":
			return float64(int16(order.Uint16(b)))
		case "ushort", "uint16":
			return float64(order.Uint16(b))
		case "int", "int32":
			return float64(int32(order.Uint32(b)))
		case "uint", "uint32":
			return float64(order.Uint32(b))
		case "float", "float32":
			return float64(math.Float32frombits(order.Uint32(b)))
		default:
			return math.Float64frombits(order.Uint64(b))
		}
	}
	for v := 0; v < h.vertices; v++ {
		rec := body[v*stride : (v+1)*stride]
		visit(value(rec, idx["x"]), value(rec, idx["y"]), value(rec, idx["z"]))
	}
	return nil
}

// BoxPLY writes an ASCII PLY of an axis-aligned box standing on the ground
// plane: x spans the length, z the width and y the height.
func BoxPLY(length, width, height float64) []byte {
	l, w := length/2, width/2
	corners := [][3]float64{
		{-l, 0, -w}, {l, 0, -w}, {l, 0, w}, {-l, 0, w},
		{-l, height, -w}, {l, height, -w}, {l, height, w}, {-l, height, w},
	}
	faces := [][4]int{
		{0, 1, 2, 3}, {4, 5, 6, 7}, {0, 1, 5, 4},
		{1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7},
	}
	var buf bytes.Buffer
	buf.WriteString("ply\nformat ascii 1.0\ncomment citygen box\n")
	fmt.Fprintf(&buf, "element vertex %d\n", len(corners))
	buf.WriteString("property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(&buf, "element face %d\n", len(faces))
	buf.WriteString("property list uchar int vertex_indices\nend_header\n")
	for _, c := range corners {
		fmt.Fprintf(&buf, "%g %g %g\n", c[0], c[1], c[2])
	}
	for _, f := range faces {
		fmt.Fprintf(&buf, "4 %d %d %d %d\n", f[0], f[1], f[2], f[3])
	}
	return buf.Bytes()
}
