package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"github.com/fansqz/v8-debug-client/utils/gosync"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Option 启动参数
type Option struct {
	// Runtime js运行时可执行文件，默认node
	Runtime string
	// Script 入口脚本
	Script string
	// Args 传给脚本的参数
	Args []string
	// Port 调试端口
	Port int
	// BreakOnStart 是否在第一行暂停
	BreakOnStart bool
	// WorkPath 工作目录
	WorkPath string
}

// Launcher 负责以调试模式拉起本地js运行时进程
// 进程挂在伪终端上，程序输出通过Read读取转发
type Launcher struct {
	option *Option
	cmd    *exec.Cmd

	ptm *os.File
	pts *os.File
}

// Launch 启动调试目标进程
func Launch(option *Option) (*Launcher, error) {
	if option.Runtime == "" {
		option.Runtime = "node"
	}
	if option.Port == 0 {
		option.Port = 5858
	}

	// 启动一个虚拟终端承载目标进程的输入输出
	ptm, pts, err := pty.Open()
	if err != nil {
		logrus.Errorf("[Launcher] pty open fail, err = %v", err)
		return nil, err
	}
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		logrus.Errorf("[Launcher] make raw fail, err = %v", err)
		_ = ptm.Close()
		_ = pts.Close()
		return nil, err
	}
	if err = syscall.SetNonblock(int(ptm.Fd()), true); err != nil {
		logrus.Errorf("[Launcher] SetNonblock fail, err = %v", err)
	}

	cmd := exec.Command(option.Runtime, buildArgs(option)...)
	cmd.Dir = option.WorkPath
	cmd.Stdin = pts
	cmd.Stdout = pts
	cmd.Stderr = pts
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	if err = cmd.Start(); err != nil {
		logrus.Errorf("[Launcher] start %s fail, err = %v", option.Runtime, err)
		_ = ptm.Close()
		_ = pts.Close()
		return nil, err
	}
	logrus.Infof("[Launcher] %s started, pid = %d, debug port = %d", option.Runtime, cmd.Process.Pid, option.Port)

	return &Launcher{option: option, cmd: cmd, ptm: ptm, pts: pts}, nil
}

// buildArgs 构造运行时的命令行参数，调试开关在前，脚本参数在后
func buildArgs(option *Option) []string {
	debugFlag := fmt.Sprintf("--debug=%d", option.Port)
	if option.BreakOnStart {
		debugFlag = fmt.Sprintf("--debug-brk=%d", option.Port)
	}
	return append([]string{debugFlag, option.Script}, option.Args...)
}

// Address 调试服务的地址
func (l *Launcher) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", l.option.Port)
}

// Pid 目标进程id
func (l *Launcher) Pid() int {
	return l.cmd.Process.Pid
}

// Write 写入目标进程的标准输入
func (l *Launcher) Write(data []byte) (int, error) {
	return l.ptm.Write(data)
}

// Read 读取目标进程的输出
func (l *Launcher) Read(data []byte) (int, error) {
	return l.ptm.Read(data)
}

// ForwardOutput 启动协程持续读取目标进程输出，交给callback
func (l *Launcher) ForwardOutput(callback func(output string)) {
	gosync.Go(context.Background(), func(ctx context.Context) {
		buffer := make([]byte, 1024)
		for {
			n, err := l.ptm.Read(buffer)
			if err != nil {
				return
			}
			if n > 0 {
				callback(string(buffer[:n]))
			}
		}
	})
}

// Wait 等待目标进程退出，返回退出码
func (l *Launcher) Wait() (int, error) {
	err := l.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Close 结束目标进程并释放终端
func (l *Launcher) Close() error {
	if l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
	}
	_ = l.ptm.Close()
	_ = l.pts.Close()
	return nil
}
