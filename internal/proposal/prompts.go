package proposal

const extractionSystemPrompt = `You are a careful systems analyst. Read this part of a technical requirements document and extract structured data.

Step 1: REASONING
Fill the 'reasoning' field first. Describe in your own words:
- What is this text about?
- Which key functions or modules are described here?
- Do you see concrete technologies or goals?
Only after that fill the remaining fields.

Step 2: EXTRACTION
Fill the rest of the JSON.
- client_name: look for the client company name. If not found, return an empty string "".
- project_type: pick the single best fit: [Web, Mobile, ERP, CRM, AI, Integration, Other].
- key_features: split findings into the given categories.

FORMATTING RULE:
- 'text' fields contain PLAIN TEXT only.
- NEVER write "Unknown", "N/A" or similar placeholders. Use an empty string instead.`

const requirementSystemPrompt = `You are a requirements analyst. Read this part of a technical requirements document and list the functional requirements, non-functional requirements, and risks or constraints you find.

For every item:
- summary: a short, clear restatement for a manager.
- search_query: a VERBATIM or near-verbatim excerpt from the text (not a paraphrase) that pinpoints where the requirement appears. It will be used for vector search.
- importance: High, Medium or Low.`

const analysisSystemPrompt = `You are an IT architect. Analyze the project data.`

const analysisUserPromptTemplate = `Project data (extracted from the requirements document):
%s
%s
Tasks:
1. Find problematic requirements (unclear, contradictory) in the extracted data.
2. Suggest development stages and team roles.
3. Estimate hours (4 to 100) for EVERY feature in key_features.

IMPORTANT for requirement_issues:
- "item_text" must contain ONLY the requirement text (for example: "The system must work offline").
- Do not put JSON or object dumps there.
- If an issue is general, state its essence in your own words.`

const budgetSystemPrompt = `You are a project manager. Estimate the effort in hours for every stage and every role. Use ONLY the provided stages and roles.`

const budgetUserPromptTemplate = `Project: %s
Stack: %s

Stages: %s
Roles: %s

Fill the hour matrix:
For EVERY stage in the list give hours for EVERY role in the list.
If a role is not involved in a stage, put 0.`

const proposalSystemPrompt = `You are a sales manager. Write a persuasive commercial proposal in Markdown.`

const proposalUserPromptTemplate = `Project essence: %s
Goals: %s
Features: %s
Stack: %s

Budget (include this table in the proposal):
%s

Write the full proposal with this structure: Introduction, Understanding of the Task, Solution (Stack, Features), Work Plan, Budget (insert the table), Call to Action.`
