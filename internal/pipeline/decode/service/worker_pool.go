package service

import (
	"context"
	"sync"
)

type workItem[InputType any, OutputType any] struct {
	input InputType
	slot  chan OutputType
}

// OrderedWorkerPool fans work out across a fixed set of workers while
// delivering results in submission order over a single channel, so a lone
// coordinating goroutine applies them with the same sequencing as inline
// execution. Both transfer channels are bounded; a full buffer blocks
// submission, which is the pool's admission control.
type OrderedWorkerPool[InputType any, OutputType any] struct {
	inputFunction func(input InputType) OutputType
	tasks         chan InputType
	pending       chan chan OutputType
	work          chan workItem[InputType, OutputType]
	results       chan OutputType
	closeOnce     sync.Once
}

func NewOrderedWorkerPool[InputType any, OutputType any](
	workerCount int,
	inputBufferSize int,
	outputBufferSize int,
	inputFunction func(input InputType) OutputType,
) *OrderedWorkerPool[InputType, OutputType] {
	if workerCount < 1 {
		workerCount = 1
	}
	if inputBufferSize < 0 {
		inputBufferSize = 0
	}
	if outputBufferSize < 0 {
		outputBufferSize = 0
	}
	pool := &OrderedWorkerPool[InputType, OutputType]{
		inputFunction: inputFunction,
		tasks:         make(chan InputType, inputBufferSize),
		pending:       make(chan chan OutputType, outputBufferSize),
		work:          make(chan workItem[InputType, OutputType]),
		results:       make(chan OutputType),
	}

	for i := 0; i < workerCount; i++ {
		go func() {
			for item := range pool.work {
				item.slot <- pool.inputFunction(item.input)
			}
		}()
	}

	// Pairing the pending slot with the work handoff in one goroutine is what
	// keeps result order aligned with submission order.
	go func() {
		defer close(pool.work)
		defer close(pool.pending)
		for input := range pool.tasks {
			slot := make(chan OutputType, 1)
			pool.pending <- slot
			pool.work <- workItem[InputType, OutputType]{input: input, slot: slot}
		}
	}()

	go func() {
		defer close(pool.results)
		for slot := range pool.pending {
			pool.results <- <-slot
		}
	}()

	return pool
}

// Tasks is the submission channel, exposed so the coordinator can select on
// submission and result draining together. Close the pool instead of closing
// this channel directly.
func (wp *OrderedWorkerPool[InputType, OutputType]) Tasks() chan<- InputType {
	return wp.tasks
}

// Results delivers outputs in submission order. The channel closes once the
// pool is closed and every outstanding task has finished.
func (wp *OrderedWorkerPool[InputType, OutputType]) Results() <-chan OutputType {
	return wp.results
}

// Submit blocks until the pool accepts the input or ctx is done.
func (wp *OrderedWorkerPool[InputType, OutputType]) Submit(ctx context.Context, input InputType) error {
	select {
	case wp.tasks <- input:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work. Already submitted tasks still run to
// completion and their results stay readable until Results closes.
func (wp *OrderedWorkerPool[InputType, OutputType]) Close() {
	wp.closeOnce.Do(func() {
		close(wp.tasks)
	})
}
