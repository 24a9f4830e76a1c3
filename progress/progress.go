// Package progress renders transfer progress bars, one per task, on top
// of mpb.
package progress

import (
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type Progress struct {
	mu       sync.Mutex
	progress *mpb.Progress
	bars     map[string]*mpb.Bar
}

func New() *Progress {
	return &Progress{
		progress: mpb.New(),
		bars:     make(map[string]*mpb.Bar),
	}
}

// Update advances the bar for taskID, creating it on first sight.
func (p *Progress) Update(taskID, label string, transferred, total int64) {
	p.mu.Lock()
	bar, ok := p.bars[taskID]
	if !ok {
		bar = p.progress.AddBar(total,
			mpb.PrependDecorators(
				decor.Name(label, decor.WC{W: 12, C: decor.DindentRight}),
				decor.CountersKibiByte(" % .2f / % .2f", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Elapsed(1, decor.WC{W: 12, C: decor.DindentRight}),
			),
		)
		p.bars[taskID] = bar
	}
	p.mu.Unlock()

	bar.SetCurrent(transferred)
}

// Finish completes or abandons the bar for taskID.
func (p *Progress) Finish(taskID string, ok bool) {
	p.mu.Lock()
	bar, exists := p.bars[taskID]
	delete(p.bars, taskID)
	p.mu.Unlock()

	if !exists {
		return
	}
	if ok {
		bar.SetTotal(-1, true)
	} else {
		bar.Abort(true)
	}
}

func (p *Progress) Wait() {
	p.progress.Wait()
}
