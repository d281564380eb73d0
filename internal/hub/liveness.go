package hub

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweep 执行一次心跳检查
//
// 上一轮未回 pong 的连接被关闭并移除；其余连接标记为未响应并发送 ping。
// 关闭与 ping 在释放锁之后进行。
func (h *Hub) Sweep() {
	type target struct {
		id   string
		conn Conn
	}

	var dead, probe []target

	h.mu.Lock()
	for id, c := range h.clients {
		if !c.alive {
			dead = append(dead, target{id: id, conn: c.conn})
			delete(h.clients, id)
			continue
		}
		c.alive = false
		probe = append(probe, target{id: id, conn: c.conn})
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	for _, t := range dead {
		if err := t.conn.Close(); err != nil {
			h.logger.Debug("Close of unresponsive client failed",
				zap.String("client_id", t.id),
				zap.Error(err),
			)
		}
		h.logger.Info("Evicted unresponsive client", zap.String("client_id", t.id))
	}

	for _, t := range probe {
		if err := t.conn.Ping(); err != nil {
			h.logger.Debug("Ping failed",
				zap.String("client_id", t.id),
				zap.Error(err),
			)
		}
	}

	if len(dead) > 0 {
		h.logger.Info("Liveness sweep",
			zap.Int("evicted", len(dead)),
			zap.Int("remaining", remaining),
		)
	}
}

// StartLiveness 按心跳间隔周期执行 Sweep，直到 ctx 结束或 Hub 关闭
func (h *Hub) StartLiveness(ctx context.Context) {
	h.mu.Lock()
	if h.closed || h.stopLiveness != nil {
		h.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	h.stopLiveness = stop
	interval := h.heartbeat
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.logger.Info("Liveness monitor started", zap.Duration("interval", interval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				h.Sweep()
			}
		}
	}()
}

// StopLiveness 停止心跳检测（未启动时为空操作）
func (h *Hub) StopLiveness() {
	h.mu.Lock()
	if h.stopLiveness != nil {
		close(h.stopLiveness)
		h.stopLiveness = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}
