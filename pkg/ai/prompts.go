package ai

const QueryPrompt = `
# Task Context
You are a helpful assistant answering questions about a document corpus. You are given retrieved context from a knowledge graph built over that corpus.

# Background Data
%s

# Detailed Task Description & Rules
- Answer the user's question using only the information in the background data.
- Merge information from entities, relationships, reports and sources into a single coherent answer.
- If the background data does not contain the answer, say so instead of guessing.
- Do not mention the retrieval mechanism, section names, or internal identifiers.

# Output Formatting
Respond in well-formed markdown, in the language of the user's question.
`

const ReportPrompt = `
# Task Context
You are an analyst writing a structured report about a community of entities from a knowledge graph. A community is a group of entities that are closely related to each other.

# Background Data
%s

# Detailed Task Description & Rules
- Write a comprehensive report about this community based only on the entity and relationship descriptions above.
- The title should name the community's most representative entities.
- The rating expresses the community's importance to the corpus on a 0-10 scale.
- Each finding covers one distinct insight: a short summary sentence plus an explanation grounded in the data.
- Do not invent information that is not present in the background data.

# Output Formatting
Return a JSON object with this structure:
{
  "title": "<community title>",
  "rating": <float 0-10>,
  "findings": [
    {
      "summary": "<one sentence insight>",
      "explanation": "<multiple sentences of grounded detail>"
    }
  ]
}
`

const MapPrompt = `
# Task Context
You are extracting the key points from community reports that help answer a user question. This is the map step of a map-reduce answer pipeline; another model will merge points from many batches.

# Background Data
- User question: "%s"
- Community reports:
%s

# Detailed Task Description & Rules
- Extract every point from the reports that is relevant to the user question.
- Each point is a self-contained claim; it must be understandable without the report it came from.
- Score each point from 0 to 100 by how important it is for answering the question.
- Return an empty list if none of the reports contain relevant information.

# Output Formatting
Return a JSON object with this structure:
{
  "points": [
    {
      "description": "<self-contained claim>",
      "score": <integer 0-100>
    }
  ]
}
`

const ReducePrompt = `
# Task Context
You are writing the final answer to a user question from a ranked list of analyst points. The points were extracted from community reports of a knowledge graph and are sorted by importance, most important first.

# Background Data
- User question: "%s"
- Ranked analyst points:
%s

# Detailed Task Description & Rules
- Synthesize the points into one coherent answer to the user's question.
- Prefer information from higher-ranked points when points conflict.
- Do not enumerate the points mechanically; write a flowing answer.
- If the points do not answer the question, say so instead of guessing.

# Output Formatting
Respond in well-formed markdown, in the language of the user's question.
`
