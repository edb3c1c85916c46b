package mcpserver

// WorkspaceGuide describes how the Runebook workspace behaves, for LLM
// consumers driving it through the tools.
const WorkspaceGuide = `# Runebook Workspace Guide

A workspace is an ordered list of documents plus one selected document.

## Documents

- Every document has an opaque ` + "`id`" + `, a ` + "`name`" + ` (e.g. ` + "`main.py`" + `),
  text ` + "`content`" + ` and a ` + "`lastModifiedAt`" + ` timestamp.
- Names need not be unique. Always address documents by id.
- Editing content bumps ` + "`lastModifiedAt`" + `. Renaming does not.
- The workspace is never empty. Deleting the only document fails with
  "cannot close the last remaining file". Deleting the selected document
  selects the previous one.

## Running

- ` + "`run_document`" + ` stages every document as a file next to the others and
  executes the selected one. Documents may import each other by name.
- Output is the captured standard output. A failing program produces output
  starting with ` + "`[ERROR] `" + ` followed by the error message.
- Only one run happens at a time. A second run while one is active is rejected.

## Keys

` + "`press_keys`" + ` accepts chords separated by spaces:

| Chord        | Action                          |
|--------------|---------------------------------|
| ctrl+r       | run the selected document       |
| ctrl+1..9    | select the nth document         |
| ctrl+n       | create a document               |
| meta+j       | toggle the output panel         |
| escape       | close the output panel          |

## Sync

When an identity is logged in, every change is mirrored to the remote store
and remote changes are merged in: for documents edited in both places the
newer ` + "`lastModifiedAt`" + ` wins, and documents that exist on only one side are kept.
`
