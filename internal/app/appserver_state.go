package app

import (
	"liuproxy_pulse/internal/service/web"
	"liuproxy_pulse/internal/shared/globalstate"
	"liuproxy_pulse/internal/worker"
	manager "liuproxy_pulse/proxypool"
)

// reporter 把 worker 状态同时写入状态面板并推送给 WebSocket 客户端。
func (s *AppServer) reporter() worker.Reporter {
	return worker.ReporterFunc(func(ws globalstate.WorkerStatus) {
		s.status.UpdateWorker(ws)
		s.hub.Report(ws)
	})
}

func (s *AppServer) onValidationProgress(p manager.Progress) {
	s.hub.BroadcastPoolUpdate(web.PoolUpdate{
		PoolSize: s.status.PoolSize(),
		Checked:  p.Completed,
		Total:    p.Total,
		Found:    p.Found,
	})
}

func (s *AppServer) publishPoolSize(n int) {
	s.status.SetPoolSize(n)
	s.hub.BroadcastPoolUpdate(web.PoolUpdate{PoolSize: n})
}
