package server

import (
	"strings"

	"golang.org/x/net/html"
)

// ReloadClientScript connects the page to the reload channel. A publish
// reloads the page; build errors are printed to the console.
const ReloadClientScript = `<script data-ssrdev>(function(){` +
	`var proto=location.protocol==="https:"?"wss:":"ws:";` +
	`function connect(){` +
	`var ws=new WebSocket(proto+"//"+location.host+"` + ReloadPath + `");` +
	`ws.onmessage=function(e){var m=JSON.parse(e.data);` +
	`if(m.type==="reload"){location.reload();}` +
	`else if(m.type==="error"){console.error("[ssrdev] build failed\n"+m.content);}` +
	`else if(m.type==="clear"){console.info("[ssrdev] build recovered");}};` +
	`ws.onclose=function(){setTimeout(connect,1000);};}` +
	`connect();})();</script>`

// InjectClient inserts script before the last </body> end tag in doc. When
// there is none the script is appended.
func InjectClient(doc, script string) string {
	at := lastBodyEnd(doc)
	if at < 0 {
		return doc + script
	}
	return doc[:at] + script + doc[at:]
}

// lastBodyEnd returns the byte offset of the last </body> tag, or -1. The
// tokenizer keeps tags inside comments and scripts from matching.
func lastBodyEnd(doc string) int {
	z := html.NewTokenizer(strings.NewReader(doc))
	offset, found := 0, -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or a read error; either way the scan is done.
			return found
		}
		raw := len(z.Raw())
		if tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "body" {
				found = offset
			}
		}
		offset += raw
	}
}
