package helper

import "bufio"

// DefaultScannerInitialBufferSize defines the initial buffer capacity for SSE scanners.
const DefaultScannerInitialBufferSize = 64 * 1024

// DefaultScannerMaxTokenSize defines the maximum line size an SSE scanner accepts.
// Upstream data lines can carry whole base64-encoded protobuf payloads.
const DefaultScannerMaxTokenSize = 32 * 1024 * 1024

// ConfigureScannerBuffer grows the scanner buffer so oversized upstream SSE
// lines do not abort the stream. Safe to call multiple times per scanner.
func ConfigureScannerBuffer(scanner *bufio.Scanner) {
	if scanner == nil {
		return
	}
	buffer := make([]byte, DefaultScannerInitialBufferSize)
	scanner.Buffer(buffer, DefaultScannerMaxTokenSize)
}
