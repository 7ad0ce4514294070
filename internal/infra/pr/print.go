// Package pr - вывод консоли приложения. После Init stdout/stderr идут через
// readline, чтобы сообщения диспетчера и логи не ломали строку ввода.
// До Init (и в неинтерактивных командах) печать идёт прямо в os.Stdout/os.Stderr.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

type console struct {
	mu     sync.Mutex
	rl     *readline.Instance
	stdin  io.Closer
	out    io.Writer
	errOut io.Writer
}

var con = &console{out: os.Stdout, errOut: os.Stderr}

// Init поднимает readline над отменяемым stdin.
func Init() error {
	stdin := readline.NewCancelableStdin(os.Stdin)
	rl, err := readline.NewEx(&readline.Config{Stdin: stdin})
	if err != nil {
		_ = stdin.Close()
		return err
	}

	con.mu.Lock()
	defer con.mu.Unlock()
	con.rl = rl
	con.stdin = stdin
	con.out = rl.Stdout()
	con.errOut = rl.Stderr()
	return nil
}

// InterruptReadline закрывает stdin: ожидающий Readline вернёт io.EOF.
func InterruptReadline() {
	con.mu.Lock()
	stdin := con.stdin
	con.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
}

// SetPrompt - no-op без Init.
func SetPrompt(prompt string) {
	if rl := Rl(); rl != nil {
		rl.SetPrompt(prompt)
	}
}

// Rl - активный readline или nil.
func Rl() *readline.Instance {
	con.mu.Lock()
	defer con.mu.Unlock()
	return con.rl
}

func Stdout() io.Writer {
	con.mu.Lock()
	defer con.mu.Unlock()
	return con.out
}

func Stderr() io.Writer {
	con.mu.Lock()
	defer con.mu.Unlock()
	return con.errOut
}

func Println(a ...any)               { fmt.Fprintln(Stdout(), a...) }
func Printf(format string, a ...any) { fmt.Fprintf(Stdout(), format, a...) }
func ErrPrintln(a ...any)            { fmt.Fprintln(Stderr(), a...) }

// PP печатает значение через kr/pretty (команда dump).
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}
