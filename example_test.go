package zpipe_test

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xDarkicex/zpipe"
)

func Example() {
	p, err := zpipe.NewPipe(zpipe.Options{})
	if err != nil {
		panic(err)
	}
	r, w := p.Reader(), p.Writer()

	buf, _ := w.Alloc(5)
	n := copy(buf, "hello")
	w.Advance(n)
	w.Flush(context.Background())
	w.Complete(nil)

	result, _ := r.Read(context.Background())
	fmt.Println(result.Buffer.String(), result.Completed)
	r.AdvanceTo(result.Buffer.End(), result.Buffer.End())
	r.Complete(nil)
	// Output: hello true
}

func ExampleBuffer_SliceTo() {
	p, _ := zpipe.NewPipe(zpipe.Options{})
	r, w := p.Reader(), p.Writer()

	w.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n"))

	result, _ := r.Read(context.Background())
	line, delim, ok := result.Buffer.SliceTo([]byte("\r\n"))
	fmt.Printf("%q %v\n", line.String(), ok)

	// Consume the request line and its delimiter; leave the rest buffered.
	next, _ := result.Buffer.Move(delim, 2)
	r.AdvanceTo(next, next)
	fmt.Println(p.Len())
	// Output:
	// "GET / HTTP/1.1" true
	// 19
}

func ExamplePipeReader_AdvanceTo() {
	p, _ := zpipe.NewPipe(zpipe.Options{})
	r, w := p.Reader(), p.Writer()

	w.Write([]byte("partial fr"))

	// Look at everything, consume nothing: the next Read waits for more.
	result, _ := r.Read(context.Background())
	r.AdvanceTo(result.Buffer.Start(), result.Buffer.End())

	w.Write([]byte("ame\n"))

	result, _ = r.Read(context.Background())
	fmt.Printf("%q\n", result.Buffer.String())
	r.Advance(result.Buffer.End())
	// Output: "partial frame\n"
}

func ExampleStreamCopy() {
	src := strings.NewReader("copied through a pipe\n")

	n, err := zpipe.StreamCopy(context.Background(), os.Stdout, src, zpipe.Options{})
	if err != nil {
		panic(err)
	}
	fmt.Println(n)
	// Output:
	// copied through a pipe
	// 22
}
