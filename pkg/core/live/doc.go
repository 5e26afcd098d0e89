// Package live runs a real-time voice conversation with a remote model.
//
// A Session captures microphone audio, streams it to the model over a
// bidirectional Channel, and plays the model's audio replies back through an
// output context while surfacing live transcripts, tool calls and amplitude
// levels for visualization.
//
// # State Machine
//
//	IDLE → CONNECTING → ACTIVE → ENDED
//	            │           │
//	            └─→ ERROR ←─┘
//
// ERROR is retryable: calling Start again re-enters CONNECTING with the same
// configuration. ENDED is terminal.
//
// # Tasks
//
// While ACTIVE the session runs four tasks in one errgroup:
//
//	capture    mic frames → RMS → PCM16 → base64 → Channel.SendAudio
//	receive    Channel.Receive → transcripts, tool calls, playback commands
//	playback   commands → PlaybackScheduler (gapless, interruptible)
//	visualize  ticker → Visualizer.Render(input, output)
//
// Audio and interrupt commands share one bounded queue so an interrupt can
// never overtake audio that arrived before it.
package live
