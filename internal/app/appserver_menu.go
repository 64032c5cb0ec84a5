package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"liuproxy_pulse/internal/shared/types"
	"liuproxy_pulse/proxypool/model"
)

// ErrExit 表示用户在菜单中选择了退出。
var ErrExit = errors.New("exit requested")

var menuChoices = map[string]string{
	"1": types.ModeFile,
	"2": types.ModeFetch,
	"3": types.ModeSaved,
	"4": types.ModeDirect,
}

const menuText = `============================================================
                  DASHBOARD STATUS CLIENT
============================================================
[1] Use proxies from local proxy file
[2] Fetch and test proxies automatically from online sources
[3] Use previously tested working proxies
[4] Run without proxies (direct connection)
[5] Exit
============================================================
`

// runMenu 显示交互菜单直到选出一个非空的代理池（或 direct）。
// 无效选项或空结果都会回到菜单；输入结束或选择 5 返回 ErrExit。
func (s *AppServer) runMenu(ctx context.Context, in io.Reader, out io.Writer) ([]model.Endpoint, error) {
	// 读取放在单独的 goroutine 中，阻塞在输入上时 ctx 取消也能立即返回
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	readLine := func() (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return "", ErrExit
			}
			return line, nil
		}
	}
	pause := func(msg string) error {
		fmt.Fprintf(out, "%s Press Enter to continue...\n", msg)
		_, err := readLine()
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprint(out, menuText)
		fmt.Fprint(out, "Enter your choice (1-5): ")

		choice, err := readLine()
		if err != nil {
			return nil, err
		}
		if choice == "5" {
			fmt.Fprintln(out, "Exiting program...")
			return nil, ErrExit
		}

		mode, known := menuChoices[choice]
		if !known {
			if err := pause("Invalid choice."); err != nil {
				return nil, err
			}
			continue
		}

		pool, err := s.SelectPool(ctx, mode)
		if err != nil {
			return nil, err
		}
		if mode == types.ModeDirect || len(pool) > 0 {
			return pool, nil
		}
		if err := pause(fmt.Sprintf("No proxies available for mode %q.", mode)); err != nil {
			return nil, err
		}
	}
}
