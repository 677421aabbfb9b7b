package utils

import "sync"

// Parallel splits [0,total) into contiguous chunks and runs task on each
// chunk in its own goroutine. worker is in [0,workers) and is unique among
// the concurrently running tasks, so it can index private scratch storage.
func Parallel(total, workers int, task func(start, end, worker int)) {
	_ = ParallelErr(total, workers, func(start, end, worker int) error {
		task(start, end, worker)
		return nil
	})
}

// ParallelErr is Parallel for tasks that can fail. All chunks run to
// completion; the error of the lowest failing worker is returned.
func ParallelErr(total, workers int, task func(start, end, worker int) error) error {
	if total <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers == 1 || total == 1 {
		return task(0, total, 0)
	}

	chunkSize := (total + workers - 1) / workers
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		s := i * chunkSize
		e := s + chunkSize
		if s >= total {
			break
		}
		if e > total {
			e = total
		}
		wg.Add(1)
		go func(start, end, worker int) {
			defer wg.Done()
			errs[worker] = task(start, end, worker)
		}(s, e, i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
