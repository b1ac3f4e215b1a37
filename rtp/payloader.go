package rtp

// ChunkPayloader splits a frame into consecutive payloads of at most mtu
// bytes without adding any payload header. The last packet of a frame
// carries the marker bit, which is what FragmentHandler reassembles on.
type ChunkPayloader struct{}

// Payload implements the pion rtp.Payloader interface.
func (ChunkPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}

	size := int(mtu)
	out := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := min(size, len(payload))
		chunk := make([]byte, n)
		copy(chunk, payload[:n])
		out = append(out, chunk)
		payload = payload[n:]
	}
	return out
}
