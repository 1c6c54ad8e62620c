package main

// #include <stdlib.h>
// #include "wallet.h"
import "C"

import (
	"time"
	"unsafe"
)

func main() {} // Required for c-shared build mode

//export wallet_init
func wallet_init() C.int {
	return C.int(lib.init())
}

//export wallet_send_message
func wallet_send_message(text *C.char, cb C.wallet_callback, userData unsafe.Pointer) C.int {
	if text == nil || cb == nil {
		return C.int(statusInvalidArgs)
	}

	return C.int(lib.send(C.GoString(text), deliverTo(cb, userData)))
}

//export wallet_listen
func wallet_listen(eventType *C.char, cb C.wallet_callback, userData unsafe.Pointer) C.int {
	if eventType == nil || cb == nil {
		return C.int(statusInvalidArgs)
	}

	return C.int(lib.listen(C.GoString(eventType), deliverTo(cb, userData)))
}

// deliverTo copies each string into C memory for the duration of one cb call.
func deliverTo(cb C.wallet_callback, userData unsafe.Pointer) func(string) {
	return func(text string) {
		cText := C.CString(text)
		defer C.free(unsafe.Pointer(cText))
		C.actorbridge_invoke_callback(cb, cText, userData)
	}
}

//export wallet_shutdown
func wallet_shutdown(timeoutMs C.int) C.int {
	return C.int(lib.shutdown(time.Duration(timeoutMs) * time.Millisecond))
}
