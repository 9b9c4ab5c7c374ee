//go:build linux && (amd64 || arm64)

package hwsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/arzzra/avsender/pkg/avmedia"
)

// Коды ioctl V4L2 для 64-битных платформ (linux/videodev2.h)
const (
	vidiocQueryCap  = 0x80685600
	vidiocSFmt      = 0xc0d05605
	vidiocReqBufs   = 0xc0145608
	vidiocQueryBuf  = 0xc0585609
	vidiocQBuf      = 0xc058560f
	vidiocDQBuf     = 0xc0585611
	vidiocStreamOn  = 0x40045612
	vidiocStreamOff = 0x40045613
	vidiocSParm     = 0xc0cc5616
	vidiocSCtrl     = 0xc008561c

	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMMAP          = 1
	v4l2FieldAny            = 0

	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000

	v4l2BufFlagKeyframe      = 0x00000008
	v4l2BufFlagTimestampMask = 0x0000e000
	v4l2BufFlagTimestampMono = 0x00002000

	v4l2CidMPEGVideoForceKeyFrame = 0x009909e5

	v4l2BufferCount = 4

	// Шаг ожидания кадра: между шагами проверяются остановка и ctx
	v4l2PollStep = 100 * time.Millisecond
)

var v4l2PixFmtH264 = fourcc('H', '2', '6', '4')

// v4l2TimeBase метки буферов в микросекундах
var v4l2TimeBase = avmedia.NewTimeBase(1, 1_000_000)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

type v4l2Format struct {
	Type uint32
	_    uint32
	Pix  v4l2PixFormat
	_    [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

type v4l2CaptureParm struct {
	Capability   uint32
	CaptureMode  uint32
	Numerator    uint32
	Denominator  uint32
	ExtendedMode uint32
	ReadBuffers  uint32
	Reserved     [4]uint32
}

type v4l2StreamParm struct {
	Type    uint32
	Capture v4l2CaptureParm
	_       [200 - unsafe.Sizeof(v4l2CaptureParm{})]byte
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	_         uint32
	Timestamp unix.Timeval
	Timecode  [16]byte
	Sequence  uint32
	Memory    uint32
	Offset    uint64
	Length    uint32
	_         uint32
	RequestFD int32
	_         uint32
}

type v4l2Control struct {
	ID    uint32
	Value int32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// v4l2Demuxer захватывает H.264 кадры аппаратного кодера через mmap буферы
type v4l2Demuxer struct {
	fd       int
	opts     Options
	timeout  time.Duration
	buffers  [][]byte
	metadata map[string][]byte
	filter   *AnnexBFilter

	// Смещение монотонных часов относительно реального времени для mono2abs
	monoOffset time.Duration

	// mu держит чтение, closed прерывает его на следующем шаге poll
	mu     sync.Mutex
	closed atomic.Bool
}

func openV4L2(cfg Config, opts Options) (demuxer, error) {
	fd, err := unix.Open(cfg.File, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия %s: %w", cfg.File, err)
	}

	d := &v4l2Demuxer{
		fd:      fd,
		opts:    opts,
		timeout: cfg.Timeout,
		filter:  &AnnexBFilter{},
	}
	if err := d.setup(); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func (d *v4l2Demuxer) setup() error {
	var capability v4l2Capability
	if err := ioctl(d.fd, vidiocQueryCap, unsafe.Pointer(&capability)); err != nil {
		return fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	caps := capability.Capabilities
	if capability.DeviceCaps != 0 {
		caps = capability.DeviceCaps
	}
	if caps&v4l2CapVideoCapture == 0 || caps&v4l2CapStreaming == 0 {
		return fmt.Errorf("%w: устройство не поддерживает захват видео с mmap", ErrUnsupportedFormat)
	}
	d.metadata = map[string][]byte{
		"driver":   bytes.TrimRight(capability.Driver[:], "\x00"),
		"card":     bytes.TrimRight(capability.Card[:], "\x00"),
		"bus_info": bytes.TrimRight(capability.BusInfo[:], "\x00"),
	}

	format := v4l2Format{Type: v4l2BufTypeVideoCapture}
	format.Pix = v4l2PixFormat{
		Width:       uint32(d.opts.Width),
		Height:      uint32(d.opts.Height),
		PixelFormat: v4l2PixFmtH264,
		Field:       v4l2FieldAny,
	}
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	if format.Pix.PixelFormat != v4l2PixFmtH264 {
		return fmt.Errorf("%w: устройство не выдает H.264", ErrUnsupportedFormat)
	}

	parm := v4l2StreamParm{Type: v4l2BufTypeVideoCapture}
	parm.Capture.Numerator = 1
	parm.Capture.Denominator = uint32(d.opts.Framerate)
	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("VIDIOC_S_PARM: %w", err)
	}

	req := v4l2RequestBuffers{Count: v4l2BufferCount, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMAP}
	if err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	if req.Count == 0 {
		return fmt.Errorf("устройство не выделило буферы")
	}

	for i := uint32(0); i < req.Count; i++ {
		buf := v4l2Buffer{Index: i, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMAP}
		if err := ioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF %d: %w", i, err)
		}

		mem, err := unix.Mmap(d.fd, int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap буфера %d: %w", i, err)
		}
		d.buffers = append(d.buffers, mem)

		if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QBUF %d: %w", i, err)
		}
	}

	bufType := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}

	var mono unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &mono); err == nil {
		d.monoOffset = time.Duration(time.Now().UnixNano() - mono.Nano())
	}
	return nil
}

func (d *v4l2Demuxer) ReadAccessUnit(ctx context.Context) (*accessUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := time.Now().Add(d.timeout)
	for {
		if d.closed.Load() {
			return nil, ErrSourceStopped
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("нет кадра за %s: %w", d.timeout, unix.ETIMEDOUT)
		}

		fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(v4l2PollStep.Milliseconds()))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return nil, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return nil, fmt.Errorf("устройство отключено: %w", unix.ENODEV)
		}
		return d.dequeue()
	}
}

func (d *v4l2Demuxer) dequeue() (*accessUnit, error) {
	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMAP}
	if err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}

	data := make([]byte, buf.BytesUsed)
	copy(data, d.buffers[buf.Index][:buf.BytesUsed])
	au := &accessUnit{
		Data:     data,
		PTS:      d.timestamp(&buf),
		Keyframe: buf.Flags&v4l2BufFlagKeyframe != 0,
	}

	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QBUF: %w", err)
	}
	return au, nil
}

// timestamp метка буфера в микросекундах по режиму timestamps
func (d *v4l2Demuxer) timestamp(buf *v4l2Buffer) int64 {
	driver := buf.Timestamp.Sec*1_000_000 + buf.Timestamp.Usec

	switch d.opts.Timestamps {
	case TimestampsAbs:
		return time.Now().UnixMicro()
	case TimestampsMono2Abs:
		if buf.Flags&v4l2BufFlagTimestampMask == v4l2BufFlagTimestampMono {
			return driver + d.monoOffset.Microseconds()
		}
		return driver
	default:
		return driver
	}
}

func (d *v4l2Demuxer) TimeBase() avmedia.TimeBase {
	return v4l2TimeBase
}

func (d *v4l2Demuxer) Filter() Filter {
	return d.filter
}

func (d *v4l2Demuxer) Metadata() map[string][]byte {
	return d.metadata
}

// RequestKeyframe передает кодеру V4L2_CID_MPEG_VIDEO_FORCE_KEY_FRAME.
// Выполняется без блокировки чтения: ioctl управления не конфликтует с DQBUF.
func (d *v4l2Demuxer) RequestKeyframe() error {
	if d.closed.Load() {
		return ErrSourceStopped
	}

	ctrl := v4l2Control{ID: v4l2CidMPEGVideoForceKeyFrame}
	if err := ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
			return fmt.Errorf("%w: %v", ErrKeyframeUnsupported, err)
		}
		return fmt.Errorf("VIDIOC_S_CTRL: %w", err)
	}
	return nil
}

// Close ждет завершения текущего чтения (не дольше шага poll) и освобождает устройство
func (d *v4l2Demuxer) Close() error {
	if d.closed.Swap(true) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bufType := uint32(v4l2BufTypeVideoCapture)
	streamErr := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&bufType))
	return errors.Join(streamErr, d.release())
}

func (d *v4l2Demuxer) release() error {
	var errs []error
	for _, mem := range d.buffers {
		if err := unix.Munmap(mem); err != nil {
			errs = append(errs, err)
		}
	}
	d.buffers = nil
	if err := unix.Close(d.fd); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
