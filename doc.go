// Package sardine contains the [Dispatcher],
// which drives reliable delivery of segmented mesh messages
// over a lossy, ordered, point-to-point link.
//
// The name is short for segmentation and reassembly delivery.
//
// The core state machine lives in [github.com/gordian-engine/sardine/sdeliver].
// The Dispatcher owns every active delivery on a single goroutine,
// feeds it acknowledgements parsed by
// [github.com/gordian-engine/sardine/slower],
// runs the incomplete timer,
// and answers inbound segments with block acknowledgements.
package sardine
