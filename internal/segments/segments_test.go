package segments

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

func require(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

func TestBuildDispatchesByType(t *testing.T) {
	seg, err := Build(Spec{Name: "boot", Type: "raw", Offset: 1024, Size: 16}, []byte("abc"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	require(t, seg.Name() == "boot" && seg.Offset() == 1024 && seg.Size() == 16,
		"segment = %v/%d/%d", seg.Name(), seg.Offset(), seg.Size())

	_, err = Build(Spec{Name: "x", Type: "nonsense"}, nil)
	require(t, err != nil, "unknown type accepted")
}

func TestRawPadsToFixedSize(t *testing.T) {
	seg, err := Build(Spec{Name: "spl", Type: "raw", Size: 8}, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := seg.WriteTo(&buf)
	require(t, err == nil && n == 8, "wrote %d, %v", n, err)
	require(t, bytes.Equal(buf.Bytes(), []byte{1, 2, 3, 0, 0, 0, 0, 0}), "padded = %v", buf.Bytes())

	_, err = Build(Spec{Name: "spl", Type: "raw", Size: 2}, []byte{1, 2, 3})
	require(t, err != nil, "oversized payload accepted")
}

func TestEnvRoundTrip(t *testing.T) {
	env := NewEnv("env", 0, 256)
	env.Set("bootcmd", "run loadkernel; bootm")
	env.Set("bootdelay", "3")

	data, err := env.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	require(t, len(data) == 256, "size = %d", len(data))

	parsed, err := ParseEnv(data)
	if err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	v, ok := parsed.Get("bootcmd")
	require(t, ok && v == "run loadkernel; bootm", "bootcmd = %q", v)
	v, ok = parsed.Get("bootdelay")
	require(t, ok && v == "3", "bootdelay = %q", v)
	require(t, len(parsed.Keys()) == 2, "keys = %v", parsed.Keys())
}

func TestEnvRejectsCorruptedCRC(t *testing.T) {
	env := NewEnv("env", 0, 128)
	env.Set("serverip", "192.168.0.1")
	data, err := env.Export()
	if err != nil {
		t.Fatal(err)
	}
	data[10] ^= 0xFF

	_, err = ParseEnv(data)
	require(t, errors.Is(err, format.ErrIntegrityViolation), "err = %v, want integrity violation", err)
}

func TestEnvFromTextAndParams(t *testing.T) {
	seg, err := Build(Spec{
		Name: "env", Type: "uboot-env", Size: 256,
		Params: map[string]string{"bootdelay": "1"},
	}, []byte("# defaults\nbootcmd=bootm 0x80000\nbootdelay=5\n"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	env := seg.(*Env)
	v, _ := env.Get("bootcmd")
	require(t, v == "bootm 0x80000", "bootcmd = %q", v)
	// Params override the text payload.
	v, _ = env.Get("bootdelay")
	require(t, v == "1", "bootdelay = %q", v)
}

func TestEnvRequiresFixedSize(t *testing.T) {
	_, err := Build(Spec{Name: "env", Type: "uboot-env"}, nil)
	require(t, err != nil, "env without a fixed size accepted")
}

func TestUImageRoundTrip(t *testing.T) {
	payload := []byte("kernel payload bytes")
	seg, err := Build(Spec{
		Name: "kernel", Type: "uboot-image", Offset: 4096,
		Params: map[string]string{"load": "0x80008000", "entry": "0x80008040", "name": "linux"},
	}, payload)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var buf bytes.Buffer
	if _, err := seg.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	require(t, buf.Len() == UImageHeaderSize+len(payload), "size = %d", buf.Len())

	h, got, err := ParseUImage(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseUImage: %v", err)
	}
	require(t, h.ImageName == "linux", "name = %q", h.ImageName)
	require(t, h.LoadAddr == 0x80008000 && h.EntryAddr == 0x80008040,
		"addrs = %08x/%08x", h.LoadAddr, h.EntryAddr)
	require(t, bytes.Equal(got, payload), "payload mismatch")
}

func TestUImageRejectsBadMagic(t *testing.T) {
	data := make([]byte, UImageHeaderSize)
	binary.BigEndian.PutUint32(data, 0xDEADBEEF)
	_, _, err := ParseUImage(data)
	require(t, errors.Is(err, format.ErrBadSignature), "err = %v, want bad signature", err)
}

func TestUImageRejectsCorruptedHeader(t *testing.T) {
	u, err := WrapUImage("kernel", 0, 0, UImageHeader{ImageName: "linux"}, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := u.Export()
	if err != nil {
		t.Fatal(err)
	}

	corrupted := append([]byte(nil), data...)
	corrupted[16] ^= 0x01 // load address field
	_, _, err = ParseUImage(corrupted)
	require(t, errors.Is(err, format.ErrIntegrityViolation), "header err = %v", err)

	corrupted = append([]byte(nil), data...)
	corrupted[UImageHeaderSize] ^= 0x01
	_, _, err = ParseUImage(corrupted)
	require(t, errors.Is(err, format.ErrIntegrityViolation), "payload err = %v", err)
}

func TestUImageTruncatedPayload(t *testing.T) {
	u, err := WrapUImage("kernel", 0, 0, UImageHeader{}, []byte("abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := u.Export()
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = ParseUImage(data[:len(data)-2])
	require(t, errors.Is(err, format.ErrTruncated), "err = %v, want truncated input", err)
}
