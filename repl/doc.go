// Package repl implements the REPL session over a serial channel: opening
// and closing the link, relaying device output to subscribers, and, for
// boards that need it, a stop-and-wait flow control protocol with autobaud.
//
// Two variants share the Connection type. Direct relays bytes unchanged.
// FlowControlled queues writes until the link is ready, strips the ENQ, ACK
// and DC4 control bytes from device output and, with FlowControl set, sends
// at most ChunkSize bytes before waiting for the device to ACK an ENQ.
//
// Everything runs on one Scheduler goroutine. Timers for autobaud probing
// and readiness are Scheduler timers, never blocking sleeps:
//
//	loop := repl.NewLoop()
//	go loop.Run(ctx)
//
//	ch, _ := serial.NewChannel(serial.DefaultConfig("/dev/ttyACM0"))
//	conn, _ := repl.New(ch, loop, repl.Config{FlowControl: true})
//	loop.Call(ctx, func() error {
//	    conn.Subscribe(func(p []byte) { os.Stdout.Write(p) })
//	    return conn.Open()
//	})
package repl
