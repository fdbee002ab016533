package channel

import (
	"context"

	"bookflow/logger"
	"bookflow/models"
)

// Fanout copies every batch from in to n outputs. A full output drops its
// copy without holding back the others. Outputs are closed when in is
// closed or ctx is done.
func Fanout(ctx context.Context, in <-chan models.BookBatch, n, buffer int) []<-chan models.BookBatch {
	outs := make([]chan models.BookBatch, n)
	ret := make([]<-chan models.BookBatch, n)
	for i := range outs {
		outs[i] = make(chan models.BookBatch, buffer)
		ret[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, o := range outs {
				close(o)
			}
		}()
		var dropped int64
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-in:
				if !ok {
					return
				}
				for _, o := range outs {
					select {
					case o <- b:
					default:
						dropped++
						if dropped%1000 == 1 {
							logger.GetLogger().WithComponent("channels").WithFields(logger.Fields{
								"dropped": dropped,
							}).Warn("book fanout output full, dropping batch")
						}
						logger.IncrementBatchDropped()
					}
				}
			}
		}
	}()
	return ret
}
