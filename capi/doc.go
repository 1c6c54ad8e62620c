// Package main exposes the actor runtime as a C shared library.
//
// # Build Instructions
//
//	go build -buildmode=c-shared -o libactorbridge.so ./capi/
//
// This generates libactorbridge.so and libactorbridge.h. The callback type
// is declared in wallet.h.
//
// # C API Usage
//
//	#include "wallet.h"
//	#include "libactorbridge.h"
//
//	static void on_response(const char *response, void *user_data) {
//	    printf("%s\n", response);
//	}
//
//	wallet_init();
//	wallet_listen("message_failed", on_response, NULL);
//	wallet_send_message("hello", on_response, NULL);
//	wallet_shutdown(5000);
//
// The response string is owned by the library and freed when the callback
// returns; copy it to keep it. Callbacks run on library-owned threads.
//
// wallet_listen takes one of message_received, message_completed,
// message_failed, callback_failed or state_changed and delivers each event as
// a JSON object. It needs an initialized runtime and ends with it.
//
// wallet_shutdown waits at most timeout_ms for accepted messages, then cancels
// the rest. It still waits for processors that are running to return, so a
// processor that ignores cancellation can hold it past the timeout.
//
// # Status Codes
//
//	0  ok
//	1  runtime not initialized
//	2  runtime shutting down or stopped
//	3  actor mailbox full
//	4  invalid arguments
//	5  internal failure (configuration error or drain deadline exceeded)
//
// The runtime is configured from config.json exactly like the serve command.
package main
