// Package event implements the single-threaded reactor that drives wlmirror.
//
// A Reactor owns one readiness-multiplexing facility (epoll on Linux) and an
// unordered registry of Handlers. Every iteration of Run performs three steps:
//
//   - announce: all before-poll hooks run once, synchronously, so subsystems can
//     flush coalesced state before the loop blocks;
//   - arm: the blocking timeout becomes the minimum Timeout over all registered
//     handlers, or "block indefinitely" when no handler has one;
//   - wait/dispatch: every handler whose fd became ready fires exactly once; when
//     nothing became ready and a timeout was armed, only the handler holding the
//     minimum timeout fires.
//
// Handlers are owned by the subsystem that created them. The reactor keeps only
// a membership reference, so owners must Unregister before closing the fd.
//
// Everything in this package except Inbox.Post must be called from the goroutine
// running Run.
package event
