package transport

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fan-out to n subscribers; each op is one message every subscriber receives
func BenchmarkTCP_FanOut(b *testing.B) {
	for _, n := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("subscribers=%d", n), func(b *testing.B) {
			pub := bindLoopback(b, TCPOptions{SendBuffer: 4096})
			subs := make([]*TCPSubscriber, n)
			for i := range subs {
				subs[i] = dialSubscribed(b, pub, "actual")
			}
			frame := [][]byte{[]byte("actual3 1.234500")}

			var wg sync.WaitGroup
			for _, sub := range subs {
				wg.Add(1)
				go func(sub *TCPSubscriber) {
					defer wg.Done()
					for got := 0; got < b.N; {
						if _, err := sub.Recv(2 * time.Second); err != nil {
							return
						}
						got++
					}
				}(sub)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for errors.Is(pub.Send(frame), ErrWouldBlock) {
					time.Sleep(10 * time.Microsecond)
				}
			}
			wg.Wait()
		})
	}
}
