//go:build dwf

package device

/*
#cgo LDFLAGS: -ldwf
#include <digilent/waveforms/dwf.h>

static int ad2_open(int *h) {
	HDWF hdwf = hdwfNone;
	int ok = FDwfDeviceOpen(-1, &hdwf);
	*h = hdwf;
	return ok && hdwf != hdwfNone;
}

static int ad2_out_sine(int h, double hz, double amplitude, double offset) {
	return FDwfAnalogOutNodeEnableSet(h, 0, AnalogOutNodeCarrier, 1) &&
		FDwfAnalogOutNodeFunctionSet(h, 0, AnalogOutNodeCarrier, funcSine) &&
		FDwfAnalogOutNodeFrequencySet(h, 0, AnalogOutNodeCarrier, hz) &&
		FDwfAnalogOutNodeAmplitudeSet(h, 0, AnalogOutNodeCarrier, amplitude) &&
		FDwfAnalogOutNodeOffsetSet(h, 0, AnalogOutNodeCarrier, offset) &&
		FDwfAnalogOutConfigure(h, 0, 1);
}

static int ad2_in_scan(int h, double hz, double range, int size) {
	return FDwfAnalogInChannelEnableSet(h, 0, 1) &&
		FDwfAnalogInChannelRangeSet(h, 0, range) &&
		FDwfAnalogInAcquisitionModeSet(h, acqmodeScanShift) &&
		FDwfAnalogInFrequencySet(h, hz) &&
		FDwfAnalogInBufferSizeSet(h, size);
}

static int ad2_in_start(int h) {
	return FDwfAnalogInConfigure(h, 0, 1);
}

static int ad2_in_valid(int h, int *valid) {
	DwfState sts;
	return FDwfAnalogInStatus(h, 1, &sts) && FDwfAnalogInStatusSamplesValid(h, valid);
}

static int ad2_in_read(int h, double *buf, int n) {
	return FDwfAnalogInStatusData(h, 0, buf, n);
}

static int ad2_out_stop(int h) {
	return FDwfAnalogOutConfigure(h, 0, 0);
}

static int ad2_close(int h) {
	return FDwfDeviceClose(h);
}

static void ad2_last_error(char *buf) {
	FDwfGetLastErrorMsg(buf);
}
*/
import "C"

import (
	stderrors "errors"
	"unsafe"
)

const dwfErrorLen = 512

// dwfBackend drives a Digilent instrument through libdwf.
type dwfBackend struct {
	hdwf C.int
}

func newDWFBackend() (backend, error) {
	return &dwfBackend{}, nil
}

// dwfError captures the SDK's last error message.
func dwfError() error {
	buf := make([]C.char, dwfErrorLen)
	C.ad2_last_error(&buf[0])
	msg := C.GoString(&buf[0])
	if msg == "" {
		msg = "unknown dwf error"
	}
	return stderrors.New(msg)
}

func (b *dwfBackend) Open() error {
	if C.ad2_open(&b.hdwf) == 0 {
		return dwfError()
	}
	return nil
}

func (b *dwfBackend) ConfigureOutput(frequency, amplitude, offset float64) error {
	if C.ad2_out_sine(b.hdwf, C.double(frequency), C.double(amplitude), C.double(offset)) == 0 {
		return dwfError()
	}
	return nil
}

func (b *dwfBackend) ConfigureInput(sampleRate, inputRange float64, bufferSize int) error {
	if C.ad2_in_scan(b.hdwf, C.double(sampleRate), C.double(inputRange), C.int(bufferSize)) == 0 {
		return dwfError()
	}
	return nil
}

func (b *dwfBackend) Start() error {
	if C.ad2_in_start(b.hdwf) == 0 {
		return dwfError()
	}
	return nil
}

func (b *dwfBackend) SamplesValid() (int, error) {
	var valid C.int
	if C.ad2_in_valid(b.hdwf, &valid) == 0 {
		return 0, dwfError()
	}
	return int(valid), nil
}

func (b *dwfBackend) Read(buf []float64) error {
	if len(buf) == 0 {
		return nil
	}
	if C.ad2_in_read(b.hdwf, (*C.double)(unsafe.Pointer(&buf[0])), C.int(len(buf))) == 0 {
		return dwfError()
	}
	return nil
}

func (b *dwfBackend) StopOutput() error {
	if C.ad2_out_stop(b.hdwf) == 0 {
		return dwfError()
	}
	return nil
}

func (b *dwfBackend) Close() error {
	if C.ad2_close(b.hdwf) == 0 {
		return dwfError()
	}
	b.hdwf = 0
	return nil
}
