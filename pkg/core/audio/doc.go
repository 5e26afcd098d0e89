// Package audio converts between the wire encodings used by the voice
// channel (base64 text, 16-bit little-endian PCM) and planar float buffers
// that an output device can schedule. It also measures signal amplitude.
package audio
