package utils

import "sync"

const (
	// Init 会话初始化状态，还未attach
	Init = "Init"
	// Suspended 远程程序暂停中，可以读取栈帧和变量
	Suspended = "suspended"
	// Running 远程程序运行中
	Running = "running"
	// Closed 会话结束状态
	Closed = "closed"
)

// StatusManager 记录调试会话状态的
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
