package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/wlmirror/internal/output"
	"github.com/bryanchriswhite/wlmirror/internal/transform"
)

type fakeSurface struct {
	version   uint32
	commits   int
	viewports [][2]int
}

func (s *fakeSurface) Version() uint32 { return s.version }

func (s *fakeSurface) SetViewportDestination(w, h int) {
	s.viewports = append(s.viewports, [2]int{w, h})
}

func (s *fakeSurface) Commit() { s.commits++ }

type fakeFrame struct {
	appID, title string
	maps         int
	minW, minH   int
	minSets      int
}

func (f *fakeFrame) SetAppID(id string) { f.appID = id }

func (f *fakeFrame) SetTitle(title string) { f.title = title }

func (f *fakeFrame) Map() { f.maps++ }

func (f *fakeFrame) MinContentSize() (int, int) { return f.minW, f.minH }

func (f *fakeFrame) SetMinContentSize(w, h int) {
	f.minW, f.minH = w, h
	f.minSets++
}

type syncState bool

func (s syncState) InitDone() bool { return bool(s) }

type event struct {
	initDone bool
	changed  Changed
	// surfaceCommits is the surface commit count seen by the listener.
	surfaceCommits int
}

type recorder struct {
	surface *fakeSurface
	events  []event
}

func (r *recorder) WindowInitDone(*Window) {
	r.events = append(r.events, event{initDone: true, surfaceCommits: r.surface.commits})
}

func (r *recorder) WindowChanged(_ *Window, changed Changed) {
	r.events = append(r.events, event{changed: changed, surfaceCommits: r.surface.commits})
}

type fixture struct {
	w       *Window
	surface *fakeSurface
	frame   *fakeFrame
	rec     *recorder
}

func newFixture(t *testing.T, version uint32, fractional bool) *fixture {
	t.Helper()
	f := &fixture{
		w:       New(Options{}),
		surface: &fakeSurface{version: version},
		frame:   &fakeFrame{},
	}
	f.rec = &recorder{surface: f.surface}
	f.w.AddListener(f.rec)

	require.NoError(t, f.w.Init(Collaborators{
		Outputs:         syncState(true),
		Surface:         f.surface,
		Frame:           f.frame,
		FractionalScale: fractional,
	}))
	return f
}

// configured returns a fixture past its first commit at 800x600.
func configured(t *testing.T, version uint32, fractional bool) *fixture {
	t.Helper()
	f := newFixture(t, version, fractional)
	f.w.Configure(Configuration{Width: 800, Height: 600})
	f.w.BeforePoll()
	require.True(t, f.w.InitDone())
	f.rec.events = nil
	return f
}

func TestInitOrder(t *testing.T) {
	w := New(Options{})
	frame := &fakeFrame{}

	err := w.Init(Collaborators{Outputs: syncState(false), Surface: &fakeSurface{}, Frame: frame})
	assert.ErrorIs(t, err, ErrOutputsNotSynced)
	assert.False(t, w.InitCalled())

	err = w.Init(Collaborators{Surface: &fakeSurface{}, Frame: frame})
	assert.ErrorIs(t, err, ErrOutputsNotSynced)

	require.NoError(t, w.Init(Collaborators{Outputs: syncState(true), Surface: &fakeSurface{}, Frame: frame}))
	assert.True(t, w.InitCalled())

	err = w.Init(Collaborators{Outputs: syncState(true), Surface: &fakeSurface{}, Frame: frame})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitMapsFrameOnce(t *testing.T) {
	w := New(Options{AppID: "test.app", Title: "Mirror"})
	frame := &fakeFrame{}

	w.OutputInitDone()
	assert.True(t, w.Flags().Has(FlagOutputsDone))
	assert.False(t, w.Flags().Has(FlagReady))

	require.NoError(t, w.Init(Collaborators{Outputs: syncState(true), Surface: &fakeSurface{}, Frame: frame}))
	assert.True(t, w.Flags().Has(FlagReady))
	assert.Equal(t, 1, frame.maps)
	assert.Equal(t, "test.app", frame.appID)
	assert.Equal(t, "Mirror", frame.title)

	w.OutputInitDone()
	assert.Equal(t, 1, frame.maps)
}

func TestNothingCommittedBeforeConfigure(t *testing.T) {
	f := newFixture(t, 1, false)
	f.w.PreferredBufferTransform(transform.Rotate90)

	f.w.BeforePoll()
	assert.Empty(t, f.rec.events)
	assert.Zero(t, f.surface.commits)
	assert.Equal(t, ChangedTransform, f.w.Changed())
}

func TestFirstCommitIsInitDone(t *testing.T) {
	f := newFixture(t, 1, false)
	f.w.Configure(Configuration{Width: 640, Height: 480})
	f.w.PreferredBufferTransform(transform.Rotate90)

	f.w.BeforePoll()

	require.Len(t, f.rec.events, 1)
	assert.True(t, f.rec.events[0].initDone)
	assert.True(t, f.w.InitDone())
	assert.Equal(t, Changed(0), f.w.Changed())
	assert.Equal(t, 1, f.surface.commits)
	assert.Equal(t, [][2]int{{640, 480}}, f.surface.viewports)

	bw, bh := f.w.BufferSize()
	assert.Equal(t, 640, bw)
	assert.Equal(t, 480, bh)

	f.w.Configure(Configuration{Width: 1024, Height: 768})
	f.w.BeforePoll()

	require.Len(t, f.rec.events, 2)
	assert.False(t, f.rec.events[1].initDone)
	assert.Equal(t, ChangedSize|ChangedBufferSize, f.rec.events[1].changed)
}

func TestSignalPrecedesSurfaceCommit(t *testing.T) {
	f := configured(t, 1, false)
	f.w.Configure(Configuration{Width: 900, Height: 600})
	f.w.BeforePoll()

	require.Len(t, f.rec.events, 1)
	assert.Equal(t, 1, f.rec.events[0].surfaceCommits, "listener runs before the surface commit")
	assert.Equal(t, 2, f.surface.commits)
}

func TestCommitWithoutChangesIsNoop(t *testing.T) {
	f := configured(t, 1, false)
	commits := f.surface.commits

	f.w.BeforePoll()
	f.w.BeforePoll()

	assert.Empty(t, f.rec.events)
	assert.Equal(t, commits, f.surface.commits)

	// proposals equal to the current state dirty nothing
	f.w.Configure(Configuration{Width: 800, Height: 600})
	f.w.PreferredBufferTransform(transform.Normal)
	f.w.BeforePoll()
	assert.Empty(t, f.rec.events)
}

func TestMutationsCoalesceIntoOneCommit(t *testing.T) {
	f := configured(t, 1, false)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 2}

	f.w.Configure(Configuration{Width: 1000, Height: 500})
	f.w.Enter(out)
	f.w.PreferredBufferTransform(transform.Flipped)
	f.w.Configure(Configuration{Width: 1200, Height: 500})
	f.w.BeforePoll()

	require.Len(t, f.rec.events, 1)
	assert.Equal(t,
		ChangedSize|ChangedScale|ChangedTransform|ChangedOutput|ChangedBufferSize,
		f.rec.events[0].changed)

	bw, bh := f.w.BufferSize()
	assert.Equal(t, 2400, bw)
	assert.Equal(t, 1000, bh)
	assert.Equal(t, [][2]int{{800, 600}, {1200, 500}}, f.surface.viewports)
}

func TestPreferredBufferScale(t *testing.T) {
	f := newFixture(t, 6, false)
	f.w.Configure(Configuration{Width: 0, Height: 0})
	f.w.BeforePoll()
	f.rec.events = nil

	// 100x100 at scale 1 -> 100x100 buffer; scale 1 proposal is a no-op
	f.w.PreferredBufferScale(1)
	f.w.BeforePoll()
	assert.Empty(t, f.rec.events)

	f.w.PreferredBufferScale(3)
	f.w.BeforePoll()
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, ChangedScale|ChangedBufferSize, f.rec.events[0].changed)
}

func TestScaleChangeKeepingBufferSize(t *testing.T) {
	w := New(Options{MinWidth: 1, MinHeight: 1})
	surface := &fakeSurface{}
	rec := &recorder{surface: surface}
	w.AddListener(rec)
	require.NoError(t, w.Init(Collaborators{
		Outputs:         syncState(true),
		Surface:         surface,
		Frame:           &fakeFrame{},
		FractionalScale: true,
	}))

	w.PreferredFractionalScale(150) // 2 * 1.25 = 2.5 -> 3
	w.Configure(Configuration{Width: 2, Height: 2})
	w.BeforePoll()

	w.PreferredFractionalScale(156) // 2 * 1.3 = 2.6 -> 3
	w.BeforePoll()

	require.Len(t, rec.events, 2)
	assert.Equal(t, ChangedScale, rec.events[1].changed)
	bw, bh := w.BufferSize()
	assert.Equal(t, 3, bw)
	assert.Equal(t, 3, bh)
}

func TestBufferSizeRounds(t *testing.T) {
	f := newFixture(t, 1, true)
	f.w.PreferredFractionalScale(150) // 1.25
	f.w.Configure(Configuration{Width: 801, Height: 333})
	f.w.BeforePoll()

	bw, bh := f.w.BufferSize()
	assert.Equal(t, 1001, bw) // 1001.25
	assert.Equal(t, 416, bh)  // 416.25
}

func TestFractionalScaleWins(t *testing.T) {
	f := configured(t, 6, true)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 2}

	f.w.PreferredFractionalScale(150)
	f.w.PreferredBufferScale(2)
	f.w.Enter(out)
	f.w.OutputChanged(out)
	f.w.BeforePoll()

	assert.Equal(t, 1.25, f.w.Scale())
	bw, bh := f.w.BufferSize()
	assert.Equal(t, 1000, bw)
	assert.Equal(t, 750, bh)
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, ChangedScale|ChangedOutput|ChangedBufferSize, f.rec.events[0].changed)
}

func TestSurfacePreferredScaleBeatsOutputScale(t *testing.T) {
	f := configured(t, 6, false)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 3}

	f.w.PreferredFractionalScale(240)
	assert.Equal(t, 1.0, f.w.Scale(), "fractional proposals need a fractional source")

	f.w.PreferredBufferScale(2)
	f.w.Enter(out)
	f.w.BeforePoll()
	assert.Equal(t, 2.0, f.w.Scale())
}

func TestOutputScaleOnOldSurfaces(t *testing.T) {
	f := configured(t, 5, false)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 2}

	f.w.PreferredBufferScale(3)
	assert.Equal(t, 1.0, f.w.Scale())

	f.w.Enter(out)
	assert.Equal(t, 2.0, f.w.Scale())
	f.w.BeforePoll()

	out.Scale = 3
	f.w.OutputChanged(out)
	f.w.BeforePoll()
	assert.Equal(t, 3.0, f.w.Scale())

	other := &output.Entry{ID: 2, Name: "DP-2", Scale: 1}
	f.w.OutputChanged(other)
	assert.Equal(t, Changed(0), f.w.Changed(), "changes to other outputs are ignored")

	require.Len(t, f.rec.events, 2)
	assert.Equal(t, ChangedScale|ChangedOutput|ChangedBufferSize, f.rec.events[0].changed)
	assert.Equal(t, ChangedScale|ChangedBufferSize, f.rec.events[1].changed)
}

func TestEnterSameOutputIsNoop(t *testing.T) {
	f := configured(t, 1, false)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 1}

	f.w.Enter(out)
	f.w.BeforePoll()
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, ChangedOutput, f.rec.events[0].changed)

	f.w.Enter(out)
	f.w.BeforePoll()
	assert.Len(t, f.rec.events, 1)
}

func TestLeaveKeepsBinding(t *testing.T) {
	f := configured(t, 1, false)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 1}

	f.w.Enter(out)
	f.w.BeforePoll()
	f.w.Leave(out)

	assert.Same(t, out, f.w.Output())
	assert.Equal(t, Changed(0), f.w.Changed())
}

func TestRemovedOutputIsUnbound(t *testing.T) {
	f := configured(t, 1, false)
	registry := output.NewRegistry()
	registry.AddObserver(f.w)

	dp1, err := registry.Add(output.Entry{ID: 1, Name: "DP-1", Scale: 2})
	require.NoError(t, err)
	dp2, err := registry.Add(output.Entry{ID: 2, Name: "DP-2", Scale: 1})
	require.NoError(t, err)

	f.w.Enter(dp1)
	f.w.BeforePoll()
	f.rec.events = nil

	require.NoError(t, registry.Remove(dp2.ID))
	assert.Same(t, dp1, f.w.Output())

	require.NoError(t, registry.Remove(dp1.ID))
	assert.Nil(t, f.w.Output())
	assert.Equal(t, Changed(0), f.w.Changed(), "removal schedules nothing")
	assert.Equal(t, 2.0, f.w.Scale(), "scale is kept until the next enter")

	f.w.BeforePoll()
	assert.Empty(t, f.rec.events)

	// a later change notification for the removed entry must not rebind it
	f.w.OutputChanged(dp1)
	assert.Nil(t, f.w.Output())
}

func TestConfigureSizeFallbacks(t *testing.T) {
	f := newFixture(t, 1, false)

	f.w.Configure(Configuration{})
	w, h := f.w.Size()
	assert.Equal(t, DefaultWidth, w)
	assert.Equal(t, DefaultHeight, h)
	assert.Equal(t, 1, f.frame.minSets)
	assert.Equal(t, DefaultWidth, f.frame.minW)

	f.w.Configure(Configuration{Width: 500, Height: 400})
	f.w.Configure(Configuration{Width: 0, Height: 300})
	w, h = f.w.Size()
	assert.Equal(t, 500, w, "previous size is kept")
	assert.Equal(t, 400, h)
	assert.Equal(t, 1, f.frame.minSets, "minimum is only raised once")
}

func TestConfigureRespectsLargerFrameMinimum(t *testing.T) {
	w := New(Options{MinWidth: 320, MinHeight: 240})
	frame := &fakeFrame{minW: 400, minH: 100}
	require.NoError(t, w.Init(Collaborators{Outputs: syncState(true), Surface: &fakeSurface{}, Frame: frame}))

	w.Configure(Configuration{Fullscreen: true})
	assert.Equal(t, 400, frame.minW)
	assert.Equal(t, 240, frame.minH)

	width, height := w.Size()
	assert.Equal(t, 400, width)
	assert.Equal(t, 240, height)
	assert.True(t, w.Fullscreen())
}

func TestInvalidTransformIgnored(t *testing.T) {
	f := configured(t, 1, false)
	f.w.PreferredBufferTransform(transform.Transform(99))
	assert.Equal(t, transform.Normal, f.w.Transform())
	assert.Equal(t, Changed(0), f.w.Changed())
}

func TestProposalsBeforeInitIgnored(t *testing.T) {
	w := New(Options{})
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 2}

	w.Enter(out)
	w.PreferredBufferScale(2)
	w.PreferredBufferTransform(transform.Rotate180)
	w.Configure(Configuration{Width: 10, Height: 10})
	w.OutputRemoved(out)
	w.BeforePoll()

	assert.Nil(t, w.Output())
	assert.Equal(t, Changed(0), w.Changed())
	assert.Equal(t, 1.0, w.Scale())
}

func TestCloseAndCleanup(t *testing.T) {
	f := configured(t, 1, true)
	f.w.RequestClose()
	assert.True(t, f.w.CloseRequested())

	f.w.Cleanup()
	assert.False(t, f.w.InitCalled())
	assert.False(t, f.w.InitDone())
	assert.False(t, f.w.CloseRequested())
	assert.False(t, f.w.FractionalScale())
	assert.Equal(t, Flags(0), f.w.Flags())
	assert.Equal(t, 1.0, f.w.Scale())
}

func TestSnapshot(t *testing.T) {
	f := configured(t, 1, false)
	f.w.Enter(&output.Entry{ID: 1, Name: "DP-1", Scale: 2})
	f.w.PreferredBufferTransform(transform.Rotate270)
	f.w.BeforePoll()

	s := f.w.Snapshot(ChangedScale)
	assert.Equal(t, transform.Mat3{
		{0, -1, 1},
		{1, 0, 0},
		{0, 0, 1},
	}, s.TextureMatrix)
	s.TextureMatrix = transform.Mat3{}
	assert.Equal(t, Snapshot{
		Width:        800,
		Height:       600,
		Scale:        2,
		BufferWidth:  1600,
		BufferHeight: 1200,
		Transform:    transform.Rotate270,
		Output:       "DP-1",
		InitDone:     true,
		Changed:      "scale",
		SourceWidth:  1200,
		SourceHeight: 1600,
	}, s)

	f.w.PreferredBufferTransform(transform.Flipped)
	f.w.BeforePoll()
	s = f.w.Snapshot(0)
	assert.Equal(t, 1600, s.SourceWidth, "flips keep the axes")
	assert.Equal(t, 1200, s.SourceHeight)
	assert.Equal(t, transform.Mat3{{-1, 0, 1}, {0, 1, 0}, {0, 0, 1}}, s.TextureMatrix)
}

func TestSetFractionalScale(t *testing.T) {
	f := configured(t, 5, true)
	out := &output.Entry{ID: 1, Name: "DP-1", Scale: 2}

	f.w.Enter(out)
	f.w.PreferredFractionalScale(150)
	f.w.BeforePoll()
	assert.Equal(t, 1.25, f.w.Scale())

	// the source vanished: the output scale takes over
	f.w.SetFractionalScale(false)
	assert.False(t, f.w.FractionalScale())
	f.w.PreferredFractionalScale(180)
	f.w.BeforePoll()
	assert.Equal(t, 2.0, f.w.Scale())
	assert.False(t, f.w.Snapshot(0).Fractional)

	f.w.SetFractionalScale(true)
	f.w.PreferredFractionalScale(180)
	f.w.BeforePoll()
	assert.Equal(t, 1.5, f.w.Scale())

	require.Len(t, f.rec.events, 3)
	for _, ev := range f.rec.events {
		assert.Equal(t, ChangedScale|ChangedBufferSize, ev.changed&(ChangedScale|ChangedBufferSize))
	}
}

func TestBitStrings(t *testing.T) {
	assert.Equal(t, "none", Changed(0).String())
	assert.Equal(t, "size|buffer-size", (ChangedSize | ChangedBufferSize).String())
	assert.Equal(t, "outputs-done|toplevel-done", FlagReady.String())
}
