// Copyright 2015 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"bytes"
	"context"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/corpus"
	"github.com/bytefuzz/bytefuzz/pkg/db"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/stat"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	Session *Session

	// Set by Serve once the listener is open.
	addr chan string
}

// Handler returns the handler serving all status pages.
func (serv *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, handlers.CompressHandler(http.HandlerFunc(handler)))
	}
	// keep-sorted start
	handle("/", serv.httpMain)
	handle("/config", serv.httpConfig)
	handle("/corpus", serv.httpCorpus)
	handle("/corpus.db", serv.httpDownloadCorpus)
	handle("/crash", serv.httpCrash)
	handle("/crashes", serv.httpCrashes)
	handle("/input", serv.httpInput)
	handle("/metrics", promhttp.HandlerFor(serv.Session.Stats.Registry(), promhttp.HandlerOpts{}).ServeHTTP)
	// keep-sorted end
	// Browsers like to request this, without special handler this goes to / handler.
	handle("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})
	return handlers.CombinedLoggingHandler(log.VerboseWriter(2), mux)
}

func (serv *HTTPServer) Serve(ctx context.Context) error {
	addr := serv.Session.Cfg.HTTP
	if addr == "" {
		return fmt.Errorf("starting a disabled HTTP server")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	log.Logf(0, "serving http on http://%v", ln.Addr())
	if serv.addr != nil {
		serv.addr <- ln.Addr().String()
	}
	server := &http.Server{Handler: serv.Handler()}
	go func() {
		// The http server package unfortunately does not natively take a context.Context.
		// Let's emulate it via server.Close()
		<-ctx.Done()
		server.Close()
	}()
	err = server.Serve(ln)
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (serv *HTTPServer) httpMain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s := serv.Session
	level := stat.Simple
	if r.FormValue("all") != "" {
		level = stat.All
	}
	data := &UISummaryData{
		UIPageHeader: serv.pageHeader("summary"),
		Log:          log.CachedLogOutput(),
	}
	for _, stat := range s.Stats.Collect(level) {
		data.Stats = append(data.Stats, UIStat{
			Name:  stat.Name,
			Value: stat.Value,
			Hint:  stat.Desc,
		})
	}
	for _, crash := range s.Corpus.Crashes() {
		data.Crashes = append(data.Crashes, uiCrash(crash))
	}
	executeTemplate(w, mainTemplate, data)
}

func uiCrash(crash *corpus.Crash) UICrash {
	return UICrash{
		ID:            crash.ID,
		Time:          crash.Meta.Time,
		Outcome:       crash.Meta.Outcome,
		Informational: crash.Meta.Informational,
		Error:         crash.Meta.Error,
		Size:          crash.Meta.Size,
	}
}

func (serv *HTTPServer) httpConfig(w http.ResponseWriter, r *http.Request) {
	serv.jsonPage(w, serv.Session.Cfg)
}

type CorpusEntry struct {
	ID     string `json:"id"`
	Size   int    `json:"size"`
	Signal int    `json:"signal"`
}

func (serv *HTTPServer) httpCorpus(w http.ResponseWriter, r *http.Request) {
	entries := []CorpusEntry{}
	for _, item := range serv.Session.Corpus.Items() {
		entries = append(entries, CorpusEntry{
			ID:     item.ID,
			Size:   len(item.Data),
			Signal: item.Signal.Len(),
		})
	}
	serv.jsonPage(w, entries)
}

type CrashEntry struct {
	ID   string      `json:"id"`
	Meta corpus.Meta `json:"meta"`
}

func (serv *HTTPServer) httpCrashes(w http.ResponseWriter, r *http.Request) {
	entries := []CrashEntry{}
	for _, crash := range serv.Session.Corpus.Crashes() {
		entries = append(entries, CrashEntry{crash.ID, crash.Meta})
	}
	serv.jsonPage(w, entries)
}

func (serv *HTTPServer) httpCrash(w http.ResponseWriter, r *http.Request) {
	crash := serv.Session.Corpus.Crash(r.FormValue("id"))
	if crash == nil {
		http.Error(w, "no such crash", http.StatusNotFound)
		return
	}
	data := &UICrashPage{
		UIPageHeader: serv.pageHeader("crash " + crash.ID),
		UICrash:      uiCrash(crash),
		Details:      crash.Meta.Details,
		Dump:         hex.Dump(crash.Data),
	}
	executeTemplate(w, crashTemplate, data)
}

func (serv *HTTPServer) httpInput(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")
	var data []byte
	if item := serv.Session.Corpus.Item(id); item != nil {
		data = item.Data
	} else if crash := serv.Session.Corpus.Crash(id); crash != nil {
		data = crash.Data
	} else {
		http.Error(w, "no such input", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (serv *HTTPServer) httpDownloadCorpus(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "bytefuzz-corpus")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create temp dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "corpus.db")
	if _, err := db.PackDir(serv.Session.Corpus.Dir(), file); err != nil {
		http.Error(w, fmt.Sprintf("failed to pack corpus: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="corpus.db"`)
	http.ServeFile(w, r, file)
}

func (serv *HTTPServer) jsonPage(w http.ResponseWriter, data any) {
	text, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode json: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(text)
}

func (serv *HTTPServer) pageHeader(title string) UIPageHeader {
	s := serv.Session
	return UIPageHeader{
		Name:      s.Cfg.Name,
		PageTitle: title,
		Session:   s.ID,
		Target:    s.Cfg.Target,
		Mode:      s.Mode.String(),
		Uptime:    time.Since(s.StartTime).Round(time.Second),
	}
}

func executeTemplate(w http.ResponseWriter, templ *template.Template, data any) {
	buf := new(bytes.Buffer)
	if err := templ.Execute(buf, data); err != nil {
		log.Logf(0, "failed to execute template: %v", err)
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

type UIPageHeader struct {
	Name      string
	PageTitle string
	Session   string
	Target    string
	Mode      string
	Uptime    time.Duration
}

type UISummaryData struct {
	UIPageHeader
	Stats   []UIStat
	Crashes []UICrash
	Log     string
}

type UIStat struct {
	Name  string
	Value string
	Hint  string
}

type UICrash struct {
	ID            string
	Time          time.Time
	Outcome       string
	Informational bool
	Error         string
	Size          int
}

type UICrashPage struct {
	UIPageHeader
	UICrash
	Details map[string]string
	Dump    string
}

func createPage(name string) *template.Template {
	return template.Must(template.New("").Parse(fmt.Sprintf(string(mustReadHTML("common")), mustReadHTML(name))))
}

var (
	mainTemplate  = createPage("main")
	crashTemplate = createPage("crash")
)

//go:embed html/*.html
var htmlFiles embed.FS

func mustReadHTML(name string) []byte {
	data, err := htmlFiles.ReadFile("html/" + name + ".html")
	if err != nil {
		panic(err)
	}
	return data
}
