package gate

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestGate_Ceiling(t *testing.T) {
	t.Run("上限を超える取得はリリースまでブロックされること", func(t *testing.T) {
		g := New(3, 0)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			if err := g.Acquire(ctx); err != nil {
				t.Fatalf("取得に失敗しました: %v", err)
			}
		}
		if g.Active() != 3 {
			t.Fatalf("期待値 3, 実際の値 %d", g.Active())
		}

		granted := make(chan struct{})
		go func() {
			if err := g.Acquire(ctx); err == nil {
				close(granted)
			}
		}()

		select {
		case <-granted:
			t.Fatal("4件目が上限を超えて払い出されました")
		case <-time.After(50 * time.Millisecond):
		}

		g.Release()
		select {
		case <-granted:
		case <-time.After(time.Second):
			t.Fatal("リリース後も4件目が払い出されませんでした")
		}
	})

	t.Run("キャンセルされた待機は枠を消費しないこと", func(t *testing.T) {
		g := New(1, 0)
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := g.Acquire(ctx); err == nil {
			t.Fatal("キャンセル済みの待機が成功しました")
		}
		if g.Active() != 1 {
			t.Errorf("期待値 1, 実際の値 %d", g.Active())
		}
	})
}

func TestGate_MinimumInterval(t *testing.T) {
	t.Run("バースト投入でも払い出し間隔が最小間隔以上になること", func(t *testing.T) {
		const interval = 20 * time.Millisecond
		const calls = 30

		var mu sync.Mutex
		var grants []time.Time
		g := New(3, interval, WithGrantHook(func(at time.Time) {
			mu.Lock()
			grants = append(grants, at)
			mu.Unlock()
		}))

		var wg sync.WaitGroup
		for i := 0; i < calls; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := g.Acquire(context.Background()); err != nil {
					t.Error(err)
					return
				}
				time.Sleep(time.Millisecond)
				g.Release()
			}()
		}
		wg.Wait()

		if len(grants) != calls {
			t.Fatalf("期待値 %d 件, 実際の値 %d 件", calls, len(grants))
		}
		if !slices.IsSortedFunc(grants, func(a, b time.Time) int { return a.Compare(b) }) {
			t.Fatal("払い出し時刻が順序どおりに記録されていません")
		}
		for i := 1; i < len(grants); i++ {
			if gap := grants[i].Sub(grants[i-1]); gap < interval {
				t.Errorf("%d 件目の間隔が短すぎます: %v", i, gap)
			}
		}
	})

	t.Run("間隔待機中のキャンセルは枠を返却すること", func(t *testing.T) {
		g := New(2, time.Hour)
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := g.Acquire(ctx); err == nil {
			t.Fatal("間隔待機中のキャンセルが成功しました")
		}
		g.Release()
		if g.Active() != 0 {
			t.Errorf("期待値 0, 実際の値 %d", g.Active())
		}
	})
}

func TestGate_FIFO(t *testing.T) {
	t.Run("待機者は到着順に払い出されること", func(t *testing.T) {
		const waiters = 5
		g := New(1, 0)
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < waiters; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if err := g.Acquire(context.Background()); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				g.Release()
			}(i)

			// 次の待機者を投入する前に、この待機者がキューに並ぶのを待つ
			deadline := time.Now().Add(time.Second)
			for g.Waiting() < i+1 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(10 * time.Millisecond)
		}

		g.Release()
		wg.Wait()

		want := []int{0, 1, 2, 3, 4}
		if !slices.Equal(order, want) {
			t.Errorf("期待値 %v, 実際の値 %v", want, order)
		}
	})
}
