package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
	"github.com/ravi-parthasarathy/convoy/pkg/runner"
)

func (s *Server) session(c fiber.Ctx) (*Session, error) {
	return s.opts.Sessions.Get(c.Context(), c.Params("id"))
}

func (s *Server) persist(c fiber.Ctx, sess *Session) error {
	return s.opts.Sessions.Persist(c.Context(), sess)
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(c fiber.Ctx, v any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	return nil
}

func queryIndex(c fiber.Ctx, key string) (*int, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s must be an integer", key))
	}
	return &n, nil
}

func unavailable(what string) error {
	return fiber.NewError(fiber.StatusServiceUnavailable, what+" is not configured")
}

// ── Pipelines ─────────────────────────────────────────────────────────

func (s *Server) listPipelines(c fiber.Ctx) error {
	list, err := s.opts.Sessions.List(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"pipelines": list})
}

func (s *Server) createPipeline(c fiber.Ctx) error {
	var body struct {
		Name     string             `json:"name"`
		Document *pipeline.Document `json:"document"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	sess, err := s.opts.Sessions.Create(c.Context(), body.Name, body.Document)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": sess.ID, "document": sess.Document()})
}

func (s *Server) getPipeline(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	doc := sess.Document()
	lint := []string{}
	for _, le := range pipeline.Validate(doc) {
		lint = append(lint, le.Error())
	}
	return c.JSON(fiber.Map{
		"id":        sess.ID,
		"document":  doc,
		"lint":      lint,
		"selection": sess.Graph.Selection(),
	})
}

func (s *Server) deletePipeline(c fiber.Ctx) error {
	if err := s.opts.Sessions.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ── Graph ─────────────────────────────────────────────────────────────

type nodeBody struct {
	Kind         pipeline.Kind      `json:"kind"`
	Label        *string            `json:"label"`
	Config       json.RawMessage    `json:"config"`
	OverrideCode *string            `json:"overrideCode"`
	Position     *pipeline.Position `json:"position"`
}

func (s *Server) addNode(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body nodeBody
	if err := decode(c, &body); err != nil {
		return err
	}
	if !body.Kind.Known() {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown kind %q", body.Kind))
	}
	cfg, err := pipeline.DecodeConfig(body.Kind, body.Config)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	n := pipeline.Node{Kind: body.Kind, Config: cfg}
	if body.Label != nil {
		n.Label = *body.Label
	}
	if body.OverrideCode != nil {
		n.OverrideCode = *body.OverrideCode
	}
	if body.Position != nil {
		n.Position = *body.Position
	}
	id, err := sess.Graph.AddNode(n)
	if err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	created, err := sess.Graph.Node(id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) patchNode(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	id := c.Params("node")
	n, err := sess.Graph.Node(id)
	if err != nil {
		return err
	}
	var body nodeBody
	if err := decode(c, &body); err != nil {
		return err
	}
	up := reconcile.Update{OverrideCode: body.OverrideCode}
	if len(body.Config) > 0 {
		cfg, err := pipeline.DecodeConfig(n.Kind, body.Config)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		up.Config = cfg
	}
	if err := reconcile.ApplyEdits(sess.Graph, map[string]reconcile.Update{id: up}); err != nil {
		return err
	}
	if body.Label != nil {
		if err := sess.Graph.SetLabel(id, *body.Label); err != nil {
			return err
		}
	}
	if body.Position != nil {
		if err := sess.Graph.Move(id, *body.Position); err != nil {
			return err
		}
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	updated, err := sess.Graph.Node(id)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (s *Server) deleteNode(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	id := c.Params("node")
	if _, err := sess.Graph.Node(id); err != nil {
		return err
	}
	sess.Graph.RemoveNode(id)
	if err := s.persist(c, sess); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) addEdge(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body pipeline.Edge
	if err := decode(c, &body); err != nil {
		return err
	}
	id, err := sess.Graph.AddEdge(pipeline.Edge{From: body.From, To: body.To})
	if err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(pipeline.Edge{ID: id, From: body.From, To: body.To})
}

func (s *Server) deleteEdge(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Graph.RemoveEdge(c.Params("edge")); err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// uploadData stores the loaded frame of a source step and records its
// schema on the node.
func (s *Server) uploadData(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	id := c.Params("node")
	n, err := sess.Graph.Node(id)
	if err != nil {
		return err
	}
	if n.Kind != pipeline.KindSource {
		return fiber.NewError(fiber.StatusBadRequest, "data can only be loaded into a data source step")
	}
	var df frame.DataFrame
	if err := decode(c, &df); err != nil {
		return err
	}
	if err := df.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if df.Rows == nil {
		df.Rows = []map[string]any{}
	}
	cfg, _ := n.EffectiveConfig().(pipeline.SourceConfig)
	cfg.Columns = df.Columns
	cfg.RowCount = df.Len()
	if err := sess.Graph.UpdateConfig(id, cfg); err != nil {
		return err
	}
	sess.Cache.Put(id, &df)
	if err := s.persist(c, sess); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"columns": df.Columns, "rows": df.Len()})
}

// ── Code ──────────────────────────────────────────────────────────────

type cellView struct {
	Ref        string        `json:"ref"`
	Kind       pipeline.Kind `json:"kind,omitempty"`
	Label      string        `json:"label"`
	Code       string        `json:"code"`
	Overridden bool          `json:"overridden"`
	Draft      bool          `json:"draft"`
	Error      string        `json:"error,omitempty"`
}

func (s *Server) getCells(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	nodes, edges := sess.Graph.Snapshot()
	out := []cellView{}
	for _, cell := range codegen.BuildCells(nodes, edges) {
		out = append(out, viewCell(cell, ""))
	}
	for _, d := range sess.Drafts.List() {
		out = append(out, viewCell(d.Cell, d.Error))
	}
	return c.JSON(fiber.Map{"cells": out})
}

func viewCell(cell codegen.Cell, errMsg string) cellView {
	return cellView{
		Ref:        cell.Ref.Key(),
		Kind:       cell.Kind,
		Label:      cell.Label,
		Code:       cell.Code,
		Overridden: cell.Overridden,
		Draft:      cell.IsDraft(),
		Error:      errMsg,
	}
}

func (s *Server) getScript(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	upTo, err := queryIndex(c, "upTo")
	if err != nil {
		return err
	}
	nodes, edges := sess.Graph.Snapshot()
	cells := codegen.BuildCells(nodes, edges)
	policy := codegen.Policy{UpTo: upTo}
	switch c.Query("policy", "full") {
	case "full":
		policy.UpTo = nil
	case "prefix":
		if upTo == nil {
			return fiber.NewError(fiber.StatusBadRequest, "prefix policy needs upTo")
		}
	case "browser":
		policy.BrowserSafe = true
		policy.Columns = sourceColumns(sess, cells)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "policy must be full, prefix or browser")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(codegen.Assemble(cells, policy))
}

func sourceColumns(sess *Session, cells []codegen.Cell) map[string][]string {
	out := make(map[string][]string)
	for _, cell := range cells {
		id, ok := cell.NodeID()
		if !ok || cell.Kind != pipeline.KindSource {
			continue
		}
		if df, ok := sess.Cache.Get(id); ok {
			out[id] = df.ColumnNames()
		}
	}
	return out
}

// putScript takes an edited full script and stores changed steps as
// override code.
func (s *Server) putScript(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Script string `json:"script"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	nodes, edges := sess.Graph.Snapshot()
	changes, err := codegen.EditsFromScript(codegen.BuildCells(nodes, edges), body.Script)
	if err != nil {
		return err
	}
	changed, err := reconcile.ApplyCodeEdits(sess.Graph, changes)
	if err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	if changed == nil {
		changed = []string{}
	}
	return c.JSON(fiber.Map{"changed": changed})
}

func (s *Server) getNotebook(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	nodes, edges := sess.Graph.Snapshot()
	nb, err := codegen.Notebook(codegen.BuildCells(nodes, edges))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/x-ipynb+json")
	return c.Send(nb)
}

func (s *Server) getClipboard(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	nodes, edges := sess.Graph.Snapshot()
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(codegen.Clipboard(codegen.BuildCells(nodes, edges)))
}

// putClipboard takes edited clipboard text and stores changed blocks as
// override code.
func (s *Server) putClipboard(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	nodes, edges := sess.Graph.Snapshot()
	changes, err := codegen.EditsFromClipboard(codegen.BuildCells(nodes, edges), string(c.Body()))
	if err != nil {
		return err
	}
	changed, err := reconcile.ApplyCodeEdits(sess.Graph, changes)
	if err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	if changed == nil {
		changed = []string{}
	}
	return c.JSON(fiber.Map{"changed": changed})
}

type stepView struct {
	NodeID         string        `json:"nodeId"`
	Kind           pipeline.Kind `json:"kind"`
	InputRows      *int          `json:"inputRowCount,omitempty"`
	OutputRows     int           `json:"outputRowCount"`
	Error          string        `json:"error,omitempty"`
	ShortCircuited bool          `json:"shortCircuited,omitempty"`
}

func viewReport(r *runner.Report) fiber.Map {
	steps := make([]stepView, len(r.Steps))
	for i, st := range r.Steps {
		steps[i] = stepView{
			NodeID:         st.NodeID,
			Kind:           st.Kind,
			InputRows:      st.InputRows,
			OutputRows:     st.OutputRows,
			Error:          st.Err,
			ShortCircuited: st.ShortCircuited,
		}
	}
	return fiber.Map{"steps": steps, "frame": r.Frame}
}

// run executes the pipeline up to ?upTo, or to the end.
func (s *Server) run(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	upTo, err := queryIndex(c, "upTo")
	if err != nil {
		return err
	}
	index := 0
	if upTo != nil {
		index = *upTo
	} else {
		nodes, edges := sess.Graph.Snapshot()
		index = len(pipeline.OrderedPipeline(nodes, edges)) - 1
	}
	report, runErr := sess.Executor.RunUpTo(c.Context(), index)
	if report == nil {
		return runErr
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	body := viewReport(report)
	if runErr != nil {
		body["error"] = runErr.Error()
		return c.Status(statusOf(runErr)).JSON(body)
	}
	return c.JSON(body)
}

// ── Drafts ────────────────────────────────────────────────────────────

func (s *Server) addDraft(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	cell := sess.Drafts.Add(body.Code)
	return c.Status(fiber.StatusCreated).JSON(viewCell(cell, ""))
}

func draftRef(c fiber.Ctx) codegen.DraftRef {
	return codegen.DraftRef{ID: c.Params("draft")}
}

// patchDraft replaces a draft's code.
func (s *Server) patchDraft(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	ref := draftRef(c)
	if err := sess.Drafts.SetCode(ref, body.Code); err != nil {
		return err
	}
	d, err := sess.Drafts.Get(ref)
	if err != nil {
		return err
	}
	return c.JSON(viewCell(d.Cell, d.Error))
}

// runDraft runs a draft against the output of the last pipeline step. A
// successful run promotes the draft to a node at the end of the pipeline;
// a failed one keeps the draft with its error.
func (s *Server) runDraft(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	ref := draftRef(c)
	d, err := sess.Drafts.Get(ref)
	if err != nil {
		return err
	}
	var input *frame.DataFrame
	nodes, edges := sess.Graph.Snapshot()
	if ids := pipeline.OrderedIDs(nodes, edges); len(ids) > 0 {
		input, _ = sess.Cache.Get(ids[len(ids)-1])
	}
	df, err := sess.Executor.RunCell(c.Context(), input, d.Cell.Code)
	if err != nil {
		msg := err.Error()
		var execErr *runner.ExecutionError
		if errors.As(err, &execErr) {
			msg = execErr.Message
		}
		if ferr := sess.Drafts.Fail(ref, msg); ferr != nil {
			return ferr
		}
		return err
	}

	id, err := sess.Drafts.Promote(sess.Graph, ref, "", nil)
	if err != nil {
		return err
	}
	rec := pipeline.RunRecord{NodeID: id}
	if input != nil {
		rows := input.Len()
		rec.InputRows = &rows
	}
	rows := df.Len()
	rec.OutputRows = &rows
	sess.Graph.RecordRun([]pipeline.RunRecord{rec}, nil)
	sess.Cache.Put(id, df)
	if err := s.persist(c, sess); err != nil {
		return err
	}
	n, err := sess.Graph.Node(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"frame": df, "node": n})
}

func (s *Server) promoteDraft(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Kind   pipeline.Kind   `json:"kind"`
		Config json.RawMessage `json:"config"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	var cfg pipeline.Config
	if body.Kind != "" {
		if cfg, err = pipeline.DecodeConfig(body.Kind, body.Config); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	id, err := sess.Drafts.Promote(sess.Graph, draftRef(c), body.Kind, cfg)
	if err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	n, err := sess.Graph.Node(id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

// ── Assist ────────────────────────────────────────────────────────────

type proposalBody struct {
	Prompt    string   `json:"prompt"`
	Script    string   `json:"script"`
	Drafts    []string `json:"drafts"`
	UpToIndex *int     `json:"upToIndex"`
}

// applyProposal merges p into the session if tok is still the latest
// request on slot. Drafts in consumed are discarded once p is merged.
func (s *Server) applyProposal(c fiber.Ctx, sess *Session, slot *assist.Slot, tok assist.Token, p *reconcile.Proposal, upTo *int, consumed []codegen.DraftRef) error {
	var out *reconcile.Outcome
	err := slot.Apply(tok, func() error {
		var err error
		out, err = reconcile.Apply(sess.Graph, p, reconcile.Options{UpToIndex: upTo, Drafts: sess.Drafts, Consumed: consumed})
		return err
	})
	if err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	created := out.Created
	if created == nil {
		created = []string{}
	}
	return c.JSON(fiber.Map{
		"created":     created,
		"removed":     out.Removed,
		"replaced":    out.Replaced,
		"explanation": p.Explanation,
		"document":    sess.Document(),
	})
}

func (s *Server) propose(c fiber.Ctx) error {
	if s.opts.Generator == nil {
		return unavailable("pipeline generation")
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body proposalBody
	if err := decode(c, &body); err != nil {
		return err
	}
	if body.Prompt == "" {
		return fiber.NewError(fiber.StatusBadRequest, "prompt is required")
	}
	tok := sess.Generate.Begin()
	p, err := s.opts.Generator.Generate(c.Context(), body.Prompt, sess.Schema())
	if err != nil {
		return err
	}
	return s.applyProposal(c, sess, &sess.Generate, tok, p, body.UpToIndex, nil)
}

// importScript imports a script, or the code of the listed drafts, as
// pipeline steps. Imported drafts are discarded once the steps are merged.
func (s *Server) importScript(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body proposalBody
	if err := decode(c, &body); err != nil {
		return err
	}
	script := body.Script
	var consumed []codegen.DraftRef
	if len(body.Drafts) > 0 {
		if script != "" {
			return fiber.NewError(fiber.StatusBadRequest, "give either script or drafts, not both")
		}
		parts := make([]string, len(body.Drafts))
		for i, id := range body.Drafts {
			ref := codegen.DraftRef{ID: id}
			d, err := sess.Drafts.Get(ref)
			if err != nil {
				return err
			}
			parts[i] = d.Cell.Code
			consumed = append(consumed, ref)
		}
		script = strings.Join(parts, "\n")
	}
	tok := sess.Import.Begin()
	p, err := assist.ImportFromScript(c.Context(), s.opts.Importer, script)
	if err != nil {
		return err
	}
	return s.applyProposal(c, sess, &sess.Import, tok, p, body.UpToIndex, consumed)
}

func (s *Server) confirmProposals(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	confirmed := sess.Graph.ConfirmProposals(body.IDs...)
	if err := s.persist(c, sess); err != nil {
		return err
	}
	if confirmed == nil {
		confirmed = []string{}
	}
	return c.JSON(fiber.Map{"confirmed": confirmed})
}

func (s *Server) clearProposals(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	removed := sess.Graph.ClearProposals()
	if err := s.persist(c, sess); err != nil {
		return err
	}
	if removed == nil {
		removed = []string{}
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (s *Server) explain(c fiber.Ctx) error {
	if s.opts.Explainer == nil {
		return unavailable("explanation")
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	n, err := sess.Graph.Node(c.Params("node"))
	if err != nil {
		return err
	}
	text, err := s.opts.Explainer.Explain(c.Context(), assist.ExplainRequest{
		Kind:       n.Kind,
		Config:     n.EffectiveConfig(),
		InputRows:  n.InputRows,
		OutputRows: n.OutputRows,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"explanation": text})
}

// editSelected asks for changes to the given nodes, or to the current
// selection when none are given.
func (s *Server) editSelected(c fiber.Ctx) error {
	if s.opts.Editor == nil {
		return unavailable("selection editing")
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body struct {
		NodeIDs []string `json:"nodeIds"`
		Prompt  string   `json:"prompt"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	ids := body.NodeIDs
	if len(ids) == 0 {
		ids = sess.Graph.Selection()
	}
	if len(ids) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no nodes selected")
	}
	req := assist.EditRequest{Prompt: body.Prompt, Schema: sess.Schema()}
	for _, id := range ids {
		n, err := sess.Graph.Node(id)
		if err != nil {
			return err
		}
		req.Nodes = append(req.Nodes, n)
	}
	sess.Graph.Select(ids...)
	nodes, edges := sess.Graph.Snapshot()
	req.Context = codegen.FullScript(codegen.BuildCells(nodes, edges))

	tok := sess.Edit.Begin()
	updates, err := s.opts.Editor.EditSelected(c.Context(), req)
	if err != nil {
		return err
	}
	if err := sess.Edit.Apply(tok, func() error { return reconcile.ApplyEdits(sess.Graph, updates) }); err != nil {
		return err
	}
	if err := s.persist(c, sess); err != nil {
		return err
	}
	updated := make([]string, 0, len(updates))
	for id := range updates {
		updated = append(updated, id)
	}
	sort.Strings(updated)
	return c.JSON(fiber.Map{"updated": updated})
}

// requestChart schedules a debounced render of a chart step from its
// last computed output.
func (s *Server) requestChart(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if sess.Chart == nil {
		return unavailable("chart rendering")
	}
	n, err := sess.Graph.Node(c.Params("node"))
	if err != nil {
		return err
	}
	cfg, ok := n.EffectiveConfig().(pipeline.ChartConfig)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "node is not a chart step")
	}
	df, ok := sess.Cache.Get(n.ID)
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "run the pipeline before rendering this chart")
	}
	sess.Chart.Request(assist.ChartRequestFor(cfg, df))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scheduled"})
}

func (s *Server) getChart(c fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if sess.Chart == nil {
		return unavailable("chart rendering")
	}
	chart, err := sess.Chart.Latest()
	if err != nil {
		return err
	}
	if chart == nil {
		return fiber.NewError(fiber.StatusNotFound, "no chart rendered yet")
	}
	return c.JSON(chart)
}
