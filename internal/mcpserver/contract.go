package mcpserver

// DocumentFormatURI identifies the document format resource.
const DocumentFormatURI = "folio://document-format"

// DocumentFormat describes how Folio stores documents on disk, for LLM
// consumers that read or write them.
const DocumentFormat = `# Folio Document Format

Documents live under the workspace documents directory and are addressed by
their path relative to it, with forward slashes (e.g. ` + "`notes/plan.md`" + `).

## Header

Folio keeps a small header block at the top of each document:

` + "```" + `
---
id: 6f1c0d6e-2b7a-5f0e-9a51-3f6d1a2c9b40
title: Weekly plan
mode: markdown
tags: [planning, weekly]
---
Body text starts here.
` + "```" + `

- The header is managed by Folio. Pass title, mode, tags and language as
  tool arguments instead of writing the block yourself; the ` + "`body`" + `
  argument of write_document is the text after the header.
- ` + "`mode`" + ` is one of ` + "`markdown`, `rich-notes`, `code`" + `. New documents
  default from the file extension (.md → markdown, .html → rich-notes,
  source files → code).
- Code documents are written without a header unless they already had one.
- A document lists each tag once. Tag lookups match by substring and ignore
  ASCII case.

## Tracking

Files copied into the documents directory by other tools are picked up on
the next reconciliation and get a stable id derived from their path.
Documents whose file disappears stay listed until an explicit prune.
`
