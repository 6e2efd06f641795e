package rpc

const helpText = `Coordination tools

Messaging
  ccp_send_message      Send a typed, prioritized message to participants.
                        Required: to, type, priority, subject, content.
                        Types: arch, contract, sync, update, q, emergency, broadcast.
                        Priorities: CRITICAL, H, M, L.
  ccp_get_messages      List messages you sent or received. Filters: participant,
                        status, type, priority, since_hours, thread_id, limit
                        (default 20, max 100), detail_level (index|summary|full),
                        active_only (default true).
  ccp_respond_message   Reply to a message by id. The original is marked
                        responded; an optional resolution_status resolves it
                        (partial, complete, requires_followup, blocked).
  ccp_close_thread      Resolve every open message in a thread and post a
                        closing notice. Required: thread_id (a message id from
                        the thread also works), resolution_status.

Search and stats
  ccp_search_messages   Full-text search over subject, summary and tags.
                        Set semantic=false for plain substring matching, or
                        pass tags for tag containment. Limit default 10, max 50.
  ccp_get_stats         Activity stats for a participant plus token usage
                        estimates. Set include_participants for the roster.

Maintenance
  ccp_compact_thread    Compact a thread: summarize (default), consolidate,
                        or archive. preserve_decisions and preserve_critical
                        default to true.
  ccp_archive_resolved  Archive expired messages and compact resolved threads
                        older than older_than_days (default from config).

Registry
  ccp_register_participant  Register a participant (admin only). Ids look
                            like @name, up to 31 chars.
  ccp_whoami                Show the current participant and configuration.
  ccp_setup_guide           First-time setup walkthrough.`

const setupGuideText = `Coordination setup

1. Choose a data directory. The default is .coordination in the working
   directory; it holds the store, the lock file, and message sidecars.

2. Write a coordination.yaml (or point CCP_CONFIG at one):

     participant_id: "@backend"
     data_directory: ".coordination"
     archive_days: 30
     auto_compact: true

   CCP_PARTICIPANT_ID overrides participant_id per process.

3. Register participants. Registration is admin-only, so the first
   participant must be created by @system or an admin-capable identity:

     {"name": "ccp_register_participant",
      "arguments": {"participant_id": "@backend",
                    "capabilities": ["api", "database"]}}

4. Send a first message:

     {"name": "ccp_send_message",
      "arguments": {"to": ["@mobile"], "type": "sync", "priority": "M",
                    "subject": "Hello", "content": "Bus is up."}}

5. Check your identity and config with ccp_whoami, and run ccp_help for
   the full tool list.

Multiple processes may share one data directory; mutations are serialized
by the lock file under locks/. If a process dies holding the lock, the
stale lock is reclaimed automatically.`
